package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

func validConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		PoolAddress:     "0x36696169C63e42cd08ce11F5DeeBbCeBae652050",
		Principal:       decimal.NewFromInt(1000),
		LowerTick:       63000,
		UpperTick:       64000,
		SwapSlippagePct: 0.5,
		LPSlippagePct:   1.0,
		AutoExit:        true,
		ExitTimeout:     10 * time.Minute,
	}
}

func TestStrategyConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("pool required", func(t *testing.T) {
		cfg := validConfig()
		cfg.PoolAddress = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("principal positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.Principal = decimal.Zero
		assert.Error(t, cfg.Validate())
	})

	t.Run("inverted ticks", func(t *testing.T) {
		cfg := validConfig()
		cfg.LowerTick, cfg.UpperTick = 64000, 63000
		assert.Error(t, cfg.Validate())
	})

	t.Run("range percent skips explicit ticks", func(t *testing.T) {
		cfg := validConfig()
		cfg.RangePercent = 5
		cfg.LowerTick, cfg.UpperTick = 0, 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("slippage bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.SwapSlippagePct = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.LPSlippagePct = 51
		assert.Error(t, cfg.Validate())
	})

	t.Run("auto exit needs timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.ExitTimeout = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := domain.RetryPolicy{
		InitialDelay:      2 * time.Second,
		MaxAttempts:       5,
		BackoffMultiplier: 2,
		MaxDelay:          60 * time.Second,
	}

	// min(initial · mult^(n-1), max)
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 16*time.Second, p.Delay(4))
	assert.Equal(t, 32*time.Second, p.Delay(5))
	assert.Equal(t, 60*time.Second, p.Delay(6)) // capado
	assert.Equal(t, 60*time.Second, p.Delay(20))

	// índices fuera de rango se tratan como el primer retry
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(-3))
}

func TestPriceFromTick(t *testing.T) {
	// mismos decimales: precio = 1.0001^tick
	assert.InDelta(t, 1.0, domain.PriceFromTick(0, 18, 18), 1e-9)
	assert.InDelta(t, 1.0001, domain.PriceFromTick(1, 18, 18), 1e-9)

	// el ajuste por decimales desplaza en potencias de 10
	assert.InDelta(t, 1e12, domain.PriceFromTick(0, 18, 6), 1e3)
}

func TestInstanceStatus_IsTerminal(t *testing.T) {
	assert.True(t, domain.StatusExited.IsTerminal())
	assert.True(t, domain.StatusCompleted.IsTerminal())
	assert.True(t, domain.StatusError.IsTerminal())
	assert.False(t, domain.StatusInitialized.IsTerminal())
	assert.False(t, domain.StatusRunning.IsTerminal())
	assert.False(t, domain.StatusMonitoring.IsTerminal())
	assert.False(t, domain.StatusExiting.IsTerminal())
}

func TestStrategyInstance_Clone(t *testing.T) {
	now := time.Now().UTC()
	inst := &domain.StrategyInstance{
		ID:     "abc",
		Status: domain.StatusMonitoring,
		Market: &domain.MarketSnapshot{Tick: 100},
		AssetPrep: &domain.AssetPrepResult{
			Required0: "10",
			Swaps:     []domain.SwapRecord{{TxHash: "0x1"}},
		},
		Position: &domain.PositionRecord{PositionID: "p1", CreatedAt: now},
	}

	cp := inst.Clone()
	cp.Market.Tick = 999
	cp.AssetPrep.Swaps[0].TxHash = "0x2"
	cp.Position.PositionID = "p2"

	assert.Equal(t, int32(100), inst.Market.Tick)
	assert.Equal(t, "0x1", inst.AssetPrep.Swaps[0].TxHash)
	assert.Equal(t, "p1", inst.Position.PositionID)
}
