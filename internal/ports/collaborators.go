package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// Wallet es la cuenta con la que firma el submitter.
type Wallet struct {
	Address common.Address
	// SignTx firma la transacción para el chain id de la instalación.
	SignTx func(tx *ethtypes.Transaction) (*ethtypes.Transaction, error)
}

// WalletStore entrega la cuenta de firma bajo demanda.
// Devuelve domain.ErrWalletLocked si el almacén está bloqueado.
type WalletStore interface {
	Wallet(ctx context.Context) (Wallet, error)
}

// RequirementsRequest is the input to the AMM math collaborator.
type RequirementsRequest struct {
	InputAmount   *big.Int // wei of the principal token
	InputIsToken0 bool
	CurrentTick   int32
	LowerTick     int32
	UpperTick     int32
	Token0        domain.TokenMeta
	Token1        domain.TokenMeta
}

// TokenRequirements is the exact pair sizing for the target range.
type TokenRequirements struct {
	Amount0     *big.Int
	Amount1     *big.Int
	Explanation string
}

// PositionMath is the AMM math collaborator. Tick/liquidity math is not
// implemented in this repo; it is consumed through this contract only.
type PositionMath interface {
	// TokenRequirements computes the exact token amounts needed to open a
	// position of the given principal over [lower, upper].
	TokenRequirements(ctx context.Context, req RequirementsRequest) (TokenRequirements, error)

	// DeriveTickBounds converts a ± percent range around the current tick
	// into tick bounds aligned to the pool's tick spacing.
	DeriveTickBounds(currentTick int32, percent float64, tickSpacing int32) (lower, upper int32)
}

// CloseResult is what the liquidity collaborator returns after closing.
type CloseResult struct {
	TxHash    string
	Returned0 *big.Int
	Returned1 *big.Int
}

// LiquidityProvider crea y cierra posiciones de liquidez concentrada.
type LiquidityProvider interface {
	CreatePosition(ctx context.Context, inst *domain.StrategyInstance) (domain.PositionRecord, error)
	ClosePosition(ctx context.Context, positionID string) (CloseResult, error)
}

// SwapResult is the outcome of one external-exchange trade.
type SwapResult struct {
	TxHash     string
	FromToken  common.Address
	ToToken    common.Address
	FromAmount *big.Int
	ToAmount   *big.Int
}

// Exchange is the external swap/quote collaborator. Quote and Swap fail
// with explicit errors on pricing or execution problems.
type Exchange interface {
	// Quote returns the input amount of `from` needed to receive amountOut
	// of `to` at current prices.
	Quote(ctx context.Context, from, to common.Address, amountOut *big.Int) (*big.Int, error)

	// Swap trades amountIn of `from` into `to`, tolerating slippagePct.
	Swap(ctx context.Context, from, to common.Address, amountIn *big.Int, slippagePct float64) (SwapResult, error)
}

// BalanceReader consulta balances ERC-20 on-chain (vía el coordinador).
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// TickSource entrega el tick actual de un pool (vía el coordinador).
type TickSource interface {
	CurrentTick(ctx context.Context, pool common.Address) (int32, error)
}

// MarketReader captura el snapshot completo del pool para la etapa 1.
type MarketReader interface {
	Snapshot(ctx context.Context, pool common.Address) (domain.MarketSnapshot, error)
}
