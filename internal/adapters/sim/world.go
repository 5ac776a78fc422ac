package sim

// world.go — mercado simulado para el modo paper: un pool con dos tokens,
// precios en USD, balances en memoria y un tick que hace random walk. Todo
// el dinero es de mentira; las interfaces son las mismas que en producción.

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// Token es un token del mundo simulado con su precio de referencia.
type Token struct {
	Meta     domain.TokenMeta
	PriceUSD float64
}

// PoolSpec describe el pool simulado.
type PoolSpec struct {
	Address     common.Address
	Token0      Token
	Token1      Token
	InitialTick int32
	TickSpacing int32
	FeePPM      uint32
	// StepTicks acota el random walk por poll; 0 → tick estático.
	StepTicks int32
}

// World implementa ports.BalanceReader, ports.TickSource y ports.MarketReader
// sobre el estado simulado. Compartido por el exchange y el liquidity provider.
type World struct {
	mu       sync.Mutex
	pool     PoolSpec
	tick     int32
	rng      *rand.Rand
	tokens   map[common.Address]Token
	balances map[common.Address]map[common.Address]*big.Int // owner → token → wei
}

// NewWorld crea el mundo con el pool dado. El seed fija el random walk.
func NewWorld(pool PoolSpec, seed int64) *World {
	w := &World{
		pool:     pool,
		tick:     pool.InitialTick,
		rng:      rand.New(rand.NewSource(seed)),
		tokens:   map[common.Address]Token{},
		balances: map[common.Address]map[common.Address]*big.Int{},
	}
	w.tokens[common.HexToAddress(pool.Token0.Meta.Address)] = pool.Token0
	w.tokens[common.HexToAddress(pool.Token1.Meta.Address)] = pool.Token1
	return w
}

// Quote devuelve la dirección del pool y su quote token (token1).
func (w *World) Quote() (common.Address, Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pool.Address, w.pool.Token1
}

// RegisterToken añade un token fuera del pool (p.ej. una base currency).
func (w *World) RegisterToken(t Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens[common.HexToAddress(t.Meta.Address)] = t
}

// SetBalance fija el balance de un owner para un token.
func (w *World) SetBalance(owner, token common.Address, amount *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureOwner(owner)[token] = new(big.Int).Set(amount)
}

// SetTick fija el tick del pool (para escenarios deterministas).
func (w *World) SetTick(tick int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick = tick
}

// TokenBalance implementa ports.BalanceReader.
func (w *World) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.ensureOwner(owner)[token]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// CurrentTick implementa ports.TickSource con un random walk acotado.
func (w *World) CurrentTick(ctx context.Context, pool common.Address) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pool != w.pool.Address {
		return 0, fmt.Errorf("sim: unknown pool %s", pool.Hex())
	}
	if w.pool.StepTicks > 0 {
		w.tick += w.rng.Int31n(2*w.pool.StepTicks+1) - w.pool.StepTicks
	}
	return w.tick, nil
}

// Snapshot implementa ports.MarketReader.
func (w *World) Snapshot(ctx context.Context, pool common.Address) (domain.MarketSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pool != w.pool.Address {
		return domain.MarketSnapshot{}, fmt.Errorf("sim: unknown pool %s", pool.Hex())
	}

	t0, t1 := w.pool.Token0.Meta, w.pool.Token1.Meta
	price01 := domain.PriceFromTick(w.tick, t0.Decimals, t1.Decimals)
	var price10 float64
	if price01 > 0 {
		price10 = 1 / price01
	}

	return domain.MarketSnapshot{
		Tick:        w.tick,
		TickSpacing: w.pool.TickSpacing,
		FeePPM:      w.pool.FeePPM,
		Token0:      t0,
		Token1:      t1,
		Price0In1:   price01,
		Price1In0:   price10,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// debit resta amount del balance; error si no alcanza.
func (w *World) debit(owner, token common.Address, amount *big.Int) error {
	bal, ok := w.ensureOwner(owner)[token]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("sim: insufficient balance of %s: have %v, need %v", token.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// credit suma amount al balance.
func (w *World) credit(owner, token common.Address, amount *big.Int) {
	owned := w.ensureOwner(owner)
	if _, ok := owned[token]; !ok {
		owned[token] = big.NewInt(0)
	}
	owned[token].Add(owned[token], amount)
}

func (w *World) ensureOwner(owner common.Address) map[common.Address]*big.Int {
	if _, ok := w.balances[owner]; !ok {
		w.balances[owner] = map[common.Address]*big.Int{}
	}
	return w.balances[owner]
}

func (w *World) token(addr common.Address) (Token, error) {
	t, ok := w.tokens[addr]
	if !ok {
		return Token{}, fmt.Errorf("sim: unknown token %s", addr.Hex())
	}
	return t, nil
}

// fakeTxHash genera un hash plausible para transacciones simuladas.
func fakeTxHash() string {
	return crypto.Keccak256Hash([]byte(uuid.NewString())).Hex()
}
