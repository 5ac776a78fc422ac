package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// InstanceStatus represents the lifecycle state of a strategy instance.
type InstanceStatus string

const (
	StatusInitialized InstanceStatus = "INITIALIZED"
	StatusRunning     InstanceStatus = "RUNNING"
	StatusMonitoring  InstanceStatus = "MONITORING"
	StatusExiting     InstanceStatus = "EXITING"
	StatusExited      InstanceStatus = "EXITED"
	StatusCompleted   InstanceStatus = "COMPLETED"
	StatusError       InstanceStatus = "ERROR"
	StatusPaused      InstanceStatus = "PAUSED"
)

// IsTerminal reports whether no pipeline work may run in this status.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusExited || s == StatusCompleted || s == StatusError
}

// ExitReason identifica qué disparó la salida de una posición.
type ExitReason string

const (
	ExitReasonTimeout  ExitReason = "range_timeout"
	ExitReasonUser     ExitReason = "user_request"
	ExitReasonShutdown ExitReason = "shutdown"
)

// StrategyConfig is the user-supplied configuration of one instance.
// Amounts are in human units of the principal token; tick bounds may be
// given explicitly or derived from RangePercent around the current tick.
type StrategyConfig struct {
	PoolAddress       string          `json:"pool_address"`
	Principal         decimal.Decimal `json:"principal"`
	PrincipalIsToken0 bool            `json:"principal_is_token0"`
	LowerTick         int32           `json:"lower_tick"`
	UpperTick         int32           `json:"upper_tick"`
	RangePercent      float64         `json:"range_percent,omitempty"` // > 0 → rederivar bounds en cada (re)inicio
	SwapSlippagePct   float64         `json:"swap_slippage_pct"`       // trades en exchange externo
	LPSlippagePct     float64         `json:"lp_slippage_pct"`         // operaciones de liquidez en el AMM
	AutoExit          bool            `json:"auto_exit"`
	ExitTimeout       time.Duration   `json:"exit_timeout"`
}

// Validate checks the configuration before an instance is allowed to start.
// Violations are configuration errors: fatal, the instance never runs.
func (c StrategyConfig) Validate() error {
	if c.PoolAddress == "" {
		return fmt.Errorf("config: pool address is required")
	}
	if c.Principal.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("config: principal must be positive, got %s", c.Principal)
	}
	if c.RangePercent < 0 {
		return fmt.Errorf("config: range percent must not be negative, got %f", c.RangePercent)
	}
	if c.RangePercent == 0 && c.LowerTick >= c.UpperTick {
		return fmt.Errorf("config: lower tick %d must be below upper tick %d", c.LowerTick, c.UpperTick)
	}
	if c.SwapSlippagePct <= 0 || c.SwapSlippagePct > 50 {
		return fmt.Errorf("config: swap slippage %f%% out of (0, 50]", c.SwapSlippagePct)
	}
	if c.LPSlippagePct <= 0 || c.LPSlippagePct > 50 {
		return fmt.Errorf("config: lp slippage %f%% out of (0, 50]", c.LPSlippagePct)
	}
	if c.AutoExit && c.ExitTimeout <= 0 {
		return fmt.Errorf("config: auto-exit requires a positive exit timeout")
	}
	return nil
}

// TokenMeta describe un token del pool.
type TokenMeta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// MarketSnapshot is the pool state captured by stage 1 of the pipeline.
type MarketSnapshot struct {
	Tick         int32     `json:"tick"`
	SqrtPriceX96 string    `json:"sqrt_price_x96"`
	TickSpacing  int32     `json:"tick_spacing"`
	FeePPM       uint32    `json:"fee_ppm"`
	Token0       TokenMeta `json:"token0"`
	Token1       TokenMeta `json:"token1"`
	Price0In1    float64   `json:"price0_in_1"` // cuánto token1 vale 1 token0
	Price1In0    float64   `json:"price1_in_0"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// PriceFromTick converts a tick to the token0 price expressed in token1,
// adjusted for the decimal difference of the pair.
func PriceFromTick(tick int32, decimals0, decimals1 uint8) float64 {
	raw := math.Pow(1.0001, float64(tick))
	return raw * math.Pow(10, float64(decimals0)-float64(decimals1))
}

// SwapRecord es el resultado persistido de un trade en el exchange externo.
type SwapRecord struct {
	TxHash     string    `json:"tx_hash"`
	FromToken  string    `json:"from_token"`
	ToToken    string    `json:"to_token"`
	FromAmount string    `json:"from_amount"` // wei, decimal string
	ToAmount   string    `json:"to_amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// AssetPrepResult captures what stage 2 computed and traded.
type AssetPrepResult struct {
	Required0  string       `json:"required0"` // wei, decimal string
	Required1  string       `json:"required1"`
	BaseToken  string       `json:"base_token"` // base currency elegida para cubrir shortfalls
	Swaps      []SwapRecord `json:"swaps,omitempty"`
	PreparedAt time.Time    `json:"prepared_at"`
}

// PositionRecord identifies the on-chain position created by stage 3.
type PositionRecord struct {
	PositionID     string    `json:"position_id"`
	CreationTxHash string    `json:"creation_tx_hash"`
	LowerTick      int32     `json:"lower_tick"`
	UpperTick      int32     `json:"upper_tick"`
	Amount0        string    `json:"amount0"` // depositado, wei
	Amount1        string    `json:"amount1"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExitRecord captures the best-effort exit: a failed close or sell leg is
// recorded here but never blocks the instance from reaching EXITED.
type ExitRecord struct {
	Reason      ExitReason   `json:"reason"`
	CloseTxHash string       `json:"close_tx_hash,omitempty"`
	CloseError  string       `json:"close_error,omitempty"`
	Swaps       []SwapRecord `json:"swaps,omitempty"`
	SwapErrors  []string     `json:"swap_errors,omitempty"`
}

// StrategyInstance is the unit of automation. Mutated only by the lifecycle
// engine and persisted after every mutation.
type StrategyInstance struct {
	ID           string           `json:"id"`
	Config       StrategyConfig   `json:"config"`
	Status       InstanceStatus   `json:"status"`
	Restarts     int              `json:"restarts"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	MonitoringAt *time.Time       `json:"monitoring_at,omitempty"`
	ExitedAt     *time.Time       `json:"exited_at,omitempty"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Market       *MarketSnapshot  `json:"market,omitempty"`
	AssetPrep    *AssetPrepResult `json:"asset_prep,omitempty"`
	Position     *PositionRecord  `json:"position,omitempty"`
	Exit         *ExitRecord      `json:"exit,omitempty"`
}

// Clone returns a deep-enough copy for safe hand-out to callers.
func (si *StrategyInstance) Clone() *StrategyInstance {
	cp := *si
	if si.Market != nil {
		m := *si.Market
		cp.Market = &m
	}
	if si.AssetPrep != nil {
		a := *si.AssetPrep
		a.Swaps = append([]SwapRecord(nil), si.AssetPrep.Swaps...)
		cp.AssetPrep = &a
	}
	if si.Position != nil {
		p := *si.Position
		cp.Position = &p
	}
	if si.Exit != nil {
		e := *si.Exit
		e.Swaps = append([]SwapRecord(nil), si.Exit.Swaps...)
		e.SwapErrors = append([]string(nil), si.Exit.SwapErrors...)
		cp.Exit = &e
	}
	return &cp
}

// RetryPolicy gobierna los reintentos de la etapa de creación de posición.
// Configuración compartida, no por instancia.
type RetryPolicy struct {
	InitialDelay      time.Duration
	MaxAttempts       int
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// Delay returns the pause before retry n (1-based):
// min(initialDelay * backoffMultiplier^(n-1), maxDelay).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retry-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
