package sim

// liquidity.go — proveedor de liquidez simulado: crear una posición debita
// los dos tokens del World, cerrarla los devuelve. Admite fallos inyectados
// para ejercitar la lógica de reintentos del engine.

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

type simPosition struct {
	token0, token1   common.Address
	amount0, amount1 *big.Int
}

// Liquidity implementa ports.LiquidityProvider contra el World.
type Liquidity struct {
	world *World
	owner common.Address

	mu        sync.Mutex
	positions map[string]simPosition
	failures  int
	failErr   error
}

// NewLiquidity crea el proveedor para la cuenta dada.
func NewLiquidity(world *World, owner common.Address) *Liquidity {
	return &Liquidity{
		world:     world,
		owner:     owner,
		positions: map[string]simPosition{},
	}
}

// FailNextCreates hace fallar las próximas n creaciones con err.
func (l *Liquidity) FailNextCreates(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
	l.failErr = err
}

// CreatePosition debita los montos calculados en la preparación de activos
// y registra la posición.
func (l *Liquidity) CreatePosition(ctx context.Context, inst *domain.StrategyInstance) (domain.PositionRecord, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		err := l.failErr
		l.mu.Unlock()
		return domain.PositionRecord{}, err
	}
	l.mu.Unlock()

	if inst.AssetPrep == nil || inst.Market == nil {
		return domain.PositionRecord{}, fmt.Errorf("sim.CreatePosition: instance not prepared")
	}

	amount0, ok := new(big.Int).SetString(inst.AssetPrep.Required0, 10)
	if !ok {
		return domain.PositionRecord{}, fmt.Errorf("sim.CreatePosition: bad required0 %q", inst.AssetPrep.Required0)
	}
	amount1, ok := new(big.Int).SetString(inst.AssetPrep.Required1, 10)
	if !ok {
		return domain.PositionRecord{}, fmt.Errorf("sim.CreatePosition: bad required1 %q", inst.AssetPrep.Required1)
	}

	token0 := common.HexToAddress(inst.Market.Token0.Address)
	token1 := common.HexToAddress(inst.Market.Token1.Address)

	l.world.mu.Lock()
	if err := l.world.debit(l.owner, token0, amount0); err != nil {
		l.world.mu.Unlock()
		return domain.PositionRecord{}, fmt.Errorf("sim.CreatePosition: %w", err)
	}
	if err := l.world.debit(l.owner, token1, amount1); err != nil {
		// devolver el primer débito para no perder fondos simulados
		l.world.credit(l.owner, token0, amount0)
		l.world.mu.Unlock()
		return domain.PositionRecord{}, fmt.Errorf("sim.CreatePosition: %w", err)
	}
	l.world.mu.Unlock()

	rec := domain.PositionRecord{
		PositionID:     uuid.NewString(),
		CreationTxHash: fakeTxHash(),
		LowerTick:      inst.Config.LowerTick,
		UpperTick:      inst.Config.UpperTick,
		Amount0:        amount0.String(),
		Amount1:        amount1.String(),
		CreatedAt:      time.Now().UTC(),
	}

	l.mu.Lock()
	l.positions[rec.PositionID] = simPosition{
		token0: token0, token1: token1,
		amount0: amount0, amount1: amount1,
	}
	l.mu.Unlock()

	return rec, nil
}

// ClosePosition devuelve los fondos de la posición al World.
func (l *Liquidity) ClosePosition(ctx context.Context, positionID string) (ports.CloseResult, error) {
	l.mu.Lock()
	pos, ok := l.positions[positionID]
	if !ok {
		l.mu.Unlock()
		return ports.CloseResult{}, fmt.Errorf("sim.ClosePosition: unknown position %s", positionID)
	}
	delete(l.positions, positionID)
	l.mu.Unlock()

	l.world.mu.Lock()
	l.world.credit(l.owner, pos.token0, pos.amount0)
	l.world.credit(l.owner, pos.token1, pos.amount1)
	l.world.mu.Unlock()

	return ports.CloseResult{
		TxHash:    fakeTxHash(),
		Returned0: new(big.Int).Set(pos.amount0),
		Returned1: new(big.Int).Set(pos.amount1),
	}, nil
}
