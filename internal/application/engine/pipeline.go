package engine

// pipeline.go — las cinco etapas del ciclo de vida de una posición:
//
//   1. snapshot del mercado y resolución de los tick bounds
//   2. preparación de activos (sizing + swaps de cobertura)
//   3. creación de la posición con reintentos y backoff
//   4. monitorización del rango
//   5. salida ordenada (exit.go)
//
// Cada etapa persiste su resultado antes de pasar a la siguiente; un fallo
// deja la instancia en ERROR con la causa apuntada.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/rangebot/internal/application/monitor"
	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

// topUpHeadroomPct es el margen extra al recomprar tras un fallo por balance
// insuficiente, para cubrir el movimiento de precio entre quote y ejecución.
const topUpHeadroomPct = 10

// quoteBufferBps engorda el input cotizado para que el redondeo del quote
// nunca deje la compra unos wei por debajo del requirement.
const quoteBufferBps = 50

// run ejecuta el pipeline completo de una instancia. Es el cuerpo del runner.
func (e *Engine) run(ctx context.Context, id string, r *runner) {
	stages := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"load_market", e.loadMarket},
		{"prepare_assets", e.prepareAssets},
		{"create_position", e.createPosition},
	}

	for _, stage := range stages {
		if err := stage.fn(ctx, id); err != nil {
			if ctx.Err() != nil {
				// apagado en mitad del pipeline: el estado queda persistido
				slog.Info("engine: pipeline interrupted by shutdown", "id", id, "stage", stage.name)
				return
			}
			e.setError(ctx, id, fmt.Errorf("%s: %w", stage.name, err))
			return
		}
	}

	e.watch(ctx, id, r)
}

// loadMarket es la etapa 1: snapshot del pool y validación del rango.
func (e *Engine) loadMarket(ctx context.Context, id string) error {
	inst, ok := e.Instance(id)
	if !ok {
		return fmt.Errorf("unknown instance %s", id)
	}
	cfg := inst.Config
	pool := common.HexToAddress(cfg.PoolAddress)

	snap, err := e.deps.Market.Snapshot(ctx, pool)
	if err != nil {
		return fmt.Errorf("market snapshot: %w", err)
	}

	lower, upper := cfg.LowerTick, cfg.UpperTick
	if cfg.RangePercent > 0 {
		lower, upper = e.deps.Math.DeriveTickBounds(snap.Tick, cfg.RangePercent, snap.TickSpacing)
		slog.Info("engine: derived tick bounds",
			"id", id, "tick", snap.Tick, "percent", cfg.RangePercent, "lower", lower, "upper", upper)
	}

	if lower >= upper {
		return fmt.Errorf("invalid range: lower %d >= upper %d", lower, upper)
	}
	if snap.Tick < lower || snap.Tick >= upper {
		return fmt.Errorf("current tick %d outside target range [%d, %d)", snap.Tick, lower, upper)
	}
	if width := upper - lower; width < e.cfg.MinRangeTicks || width > e.cfg.MaxRangeTicks {
		return fmt.Errorf("range width %d ticks outside allowed [%d, %d]", width, e.cfg.MinRangeTicks, e.cfg.MaxRangeTicks)
	}

	err = e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		now := time.Now().UTC()
		inst.Market = &snap
		inst.Config.LowerTick = lower
		inst.Config.UpperTick = upper
		inst.Status = domain.StatusRunning
		inst.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, domain.EventStrategyStarted, id, map[string]any{
		"pool":       cfg.PoolAddress,
		"tick":       snap.Tick,
		"lower_tick": lower,
		"upper_tick": upper,
	})
	return nil
}

// prepareAssets es la etapa 2: calcula cuánto de cada token exige el rango y
// cubre los shortfalls con swaps desde la mejor base currency disponible.
func (e *Engine) prepareAssets(ctx context.Context, id string) error {
	inst, ok := e.Instance(id)
	if !ok || inst.Market == nil {
		return fmt.Errorf("instance %s has no market snapshot", id)
	}
	cfg := inst.Config
	market := *inst.Market

	w, err := e.deps.Wallet.Wallet(ctx)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	principalToken := market.Token1
	if cfg.PrincipalIsToken0 {
		principalToken = market.Token0
	}
	principalWei := weiFromDecimal(cfg.Principal, principalToken.Decimals)

	req, err := e.deps.Math.TokenRequirements(ctx, ports.RequirementsRequest{
		InputAmount:   principalWei,
		InputIsToken0: cfg.PrincipalIsToken0,
		CurrentTick:   market.Tick,
		LowerTick:     cfg.LowerTick,
		UpperTick:     cfg.UpperTick,
		Token0:        market.Token0,
		Token1:        market.Token1,
	})
	if err != nil {
		return fmt.Errorf("token requirements: %w", err)
	}
	slog.Info("engine: position sizing",
		"id", id, "amount0", req.Amount0, "amount1", req.Amount1, "detail", req.Explanation)

	prep := domain.AssetPrepResult{
		Required0: req.Amount0.String(),
		Required1: req.Amount1.String(),
	}

	legs := []struct {
		token domain.TokenMeta
		need  *big.Int
	}{
		{market.Token0, req.Amount0},
		{market.Token1, req.Amount1},
	}

	// los swaps de cobertura sirven a la operación de liquidez: usan la
	// tolerancia de LP, no la de trades sueltos en el exchange
	for _, leg := range legs {
		swap, base, err := e.coverShortfall(ctx, w, leg.token, leg.need, cfg.LPSlippagePct)
		if err != nil {
			return fmt.Errorf("cover %s shortfall: %w", leg.token.Symbol, err)
		}
		if swap != nil {
			prep.Swaps = append(prep.Swaps, *swap)
			prep.BaseToken = base
			if e.deps.Ledger != nil {
				if lerr := e.deps.Ledger.RecordSwap(ctx, id, *swap); lerr != nil {
					slog.Warn("engine: ledger swap write failed", "err", lerr)
				}
			}
			e.publish(ctx, domain.EventSwapExecuted, id, map[string]any{
				"tx":          swap.TxHash,
				"from_token":  swap.FromToken,
				"to_token":    swap.ToToken,
				"from_amount": swap.FromAmount,
				"to_amount":   swap.ToAmount,
			})
		}
	}

	// verificación final: con dust de margen, ambos balances cubren el sizing
	for _, leg := range legs {
		bal, err := e.deps.Balances.TokenBalance(ctx, common.HexToAddress(leg.token.Address), w.Address)
		if err != nil {
			return fmt.Errorf("verify %s balance: %w", leg.token.Symbol, err)
		}
		missing := new(big.Int).Sub(leg.need, bal)
		if missing.Cmp(e.cfg.DustThreshold) > 0 {
			return fmt.Errorf("%s balance %s still short of required %s after swaps", leg.token.Symbol, bal, leg.need)
		}
	}

	prep.PreparedAt = time.Now().UTC()
	return e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		inst.AssetPrep = &prep
		return nil
	})
}

// coverShortfall compra lo que falte de token hasta need. Devuelve el swap
// ejecutado (nil si el balance ya cubría) y el símbolo de la base usada.
func (e *Engine) coverShortfall(ctx context.Context, w ports.Wallet, token domain.TokenMeta, need *big.Int, slippagePct float64) (*domain.SwapRecord, string, error) {
	tokenAddr := common.HexToAddress(token.Address)

	bal, err := e.deps.Balances.TokenBalance(ctx, tokenAddr, w.Address)
	if err != nil {
		return nil, "", fmt.Errorf("balance: %w", err)
	}

	shortfall := new(big.Int).Sub(need, bal)
	if shortfall.Cmp(e.cfg.DustThreshold) <= 0 {
		return nil, "", nil
	}

	base, err := e.chooseBase(ctx, w, tokenAddr)
	if err != nil {
		return nil, "", err
	}

	quoted, err := e.deps.Exchange.Quote(ctx, base.Address, tokenAddr, shortfall)
	if err != nil {
		return nil, "", fmt.Errorf("quote %s→%s: %w", base.Symbol, token.Symbol, err)
	}
	amountIn := new(big.Int).Mul(quoted, big.NewInt(10_000+quoteBufferBps))
	amountIn.Div(amountIn, big.NewInt(10_000))

	res, err := e.deps.Exchange.Swap(ctx, base.Address, tokenAddr, amountIn, slippagePct)
	if err != nil {
		return nil, "", fmt.Errorf("swap %s→%s: %w", base.Symbol, token.Symbol, err)
	}

	rec := domain.SwapRecord{
		TxHash:     res.TxHash,
		FromToken:  base.Address.Hex(),
		ToToken:    token.Address,
		FromAmount: res.FromAmount.String(),
		ToAmount:   res.ToAmount.String(),
		ExecutedAt: time.Now().UTC(),
	}
	slog.Info("engine: shortfall covered",
		"token", token.Symbol, "shortfall", shortfall, "base", base.Symbol, "tx", res.TxHash)
	return &rec, base.Symbol, nil
}

// chooseBase elige la base currency con mayor balance normalizado por
// decimales, excluyendo el token que se quiere comprar.
func (e *Engine) chooseBase(ctx context.Context, w ports.Wallet, exclude common.Address) (BaseCurrency, error) {
	var best BaseCurrency
	bestScore := decimal.Zero
	found := false

	for _, base := range e.cfg.BaseCurrencies {
		if base.Address == exclude {
			continue
		}
		bal, err := e.deps.Balances.TokenBalance(ctx, base.Address, w.Address)
		if err != nil {
			slog.Warn("engine: base balance check failed", "base", base.Symbol, "err", err)
			continue
		}
		// normalizar a unidades humanas para comparar entre decimales distintos
		score := decimal.NewFromBigInt(bal, -int32(base.Decimals))
		if !found || score.GreaterThan(bestScore) {
			best = base
			bestScore = score
			found = true
		}
	}

	if !found {
		return BaseCurrency{}, fmt.Errorf("no usable base currency among %d candidates", len(e.cfg.BaseCurrencies))
	}
	return best, nil
}

// createPosition es la etapa 3: abre la posición con reintentos y backoff
// exponencial. Un resultado sin position ID o sin tx hash cuenta como fallo.
func (e *Engine) createPosition(ctx context.Context, id string) error {
	policy := e.cfg.Retry
	toppedUp := false

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		inst, ok := e.Instance(id)
		if !ok {
			return fmt.Errorf("unknown instance %s", id)
		}

		rec, err := e.deps.Liquidity.CreatePosition(ctx, inst)
		if err == nil {
			if rec.PositionID == "" || rec.CreationTxHash == "" {
				err = fmt.Errorf("liquidity provider returned incomplete record (id=%q tx=%q)", rec.PositionID, rec.CreationTxHash)
			} else {
				if merr := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
					inst.Position = &rec
					return nil
				}); merr != nil {
					return merr
				}
				e.publish(ctx, domain.EventPositionCreated, id, map[string]any{
					"position_id": rec.PositionID,
					"tx":          rec.CreationTxHash,
					"lower_tick":  rec.LowerTick,
					"upper_tick":  rec.UpperTick,
				})
				slog.Info("engine: position created",
					"id", id, "position", rec.PositionID, "tx", rec.CreationTxHash, "attempt", attempt)
				return nil
			}
		}

		lastErr = err
		if domain.IsPermanent(err) {
			return fmt.Errorf("permanent failure on attempt %d: %w", attempt, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// un único top-up por pipeline: recomprar lo que falte y reintentar
		if domain.Classify(err) == domain.KindInsufficientBalance && !toppedUp {
			toppedUp = true
			if terr := e.topUp(ctx, id, inst); terr != nil {
				slog.Warn("engine: top-up failed", "id", id, "err", terr)
			}
		}

		if attempt < policy.MaxAttempts {
			delay := policy.Delay(attempt)
			slog.Warn("engine: position creation failed, backing off",
				"id", id, "attempt", attempt, "delay", delay, "err", err)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("position creation failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// topUp recalcula los requirements con el tick vivo y recompra el shortfall
// con margen, esperando después a que el balance asiente.
func (e *Engine) topUp(ctx context.Context, id string, inst *domain.StrategyInstance) error {
	if inst.Market == nil {
		return fmt.Errorf("no market snapshot")
	}
	cfg := inst.Config
	market := *inst.Market

	w, err := e.deps.Wallet.Wallet(ctx)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	tick, err := e.deps.Ticks.CurrentTick(ctx, common.HexToAddress(cfg.PoolAddress))
	if err != nil {
		return fmt.Errorf("current tick: %w", err)
	}

	principalToken := market.Token1
	if cfg.PrincipalIsToken0 {
		principalToken = market.Token0
	}

	req, err := e.deps.Math.TokenRequirements(ctx, ports.RequirementsRequest{
		InputAmount:   weiFromDecimal(cfg.Principal, principalToken.Decimals),
		InputIsToken0: cfg.PrincipalIsToken0,
		CurrentTick:   tick,
		LowerTick:     cfg.LowerTick,
		UpperTick:     cfg.UpperTick,
		Token0:        market.Token0,
		Token1:        market.Token1,
	})
	if err != nil {
		return fmt.Errorf("token requirements: %w", err)
	}

	legs := []struct {
		token domain.TokenMeta
		need  *big.Int
	}{
		{market.Token0, withHeadroom(req.Amount0)},
		{market.Token1, withHeadroom(req.Amount1)},
	}
	for _, leg := range legs {
		if _, _, err := e.coverShortfall(ctx, w, leg.token, leg.need, cfg.LPSlippagePct); err != nil {
			return err
		}
	}

	// dejar asentar el swap antes del siguiente intento de creación
	sleepCtx(ctx, e.cfg.PollInterval)
	return nil
}

// watch es la etapa 4: vigila el rango hasta timeout, exit forzado o apagado.
func (e *Engine) watch(ctx context.Context, id string, r *runner) {
	inst, ok := e.Instance(id)
	if !ok {
		return
	}
	cfg := inst.Config

	var timeout time.Duration
	if cfg.AutoExit {
		timeout = cfg.ExitTimeout
	}

	mon := monitor.New(monitor.Config{
		Pool:      common.HexToAddress(cfg.PoolAddress),
		LowerTick: cfg.LowerTick,
		UpperTick: cfg.UpperTick,
		Interval:  e.cfg.PollInterval,
		Timeout:   timeout,
	}, e.deps.Ticks)

	mon.Start(ctx)

	if err := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		now := time.Now().UTC()
		inst.Status = domain.StatusMonitoring
		inst.MonitoringAt = &now
		return nil
	}); err != nil {
		slog.Error("engine: monitoring transition failed", "id", id, "err", err)
	}
	slog.Info("engine: monitoring range",
		"id", id, "lower", cfg.LowerTick, "upper", cfg.UpperTick, "auto_exit", cfg.AutoExit)

	for {
		select {
		case <-ctx.Done():
			// apagado sin liquidar: la posición queda abierta y persistida
			mon.Stop()
			return

		case reason := <-r.exitReq:
			e.runExit(ctx, id, mon, reason)
			return

		case evt, open := <-mon.Events():
			if !open {
				return
			}
			switch evt.Kind {
			case domain.RangeExited:
				slog.Warn("engine: price left range", "id", id, "tick", evt.Tick)
			case domain.RangeEntered:
				slog.Info("engine: price back in range", "id", id, "tick", evt.Tick)
			case domain.RangeTimeout:
				slog.Warn("engine: out-of-range timeout expired", "id", id)
				if cfg.AutoExit {
					e.runExit(ctx, id, mon, domain.ExitReasonTimeout)
					return
				}
			}
		}
	}
}

// withHeadroom añade el margen de recompra del top-up.
func withHeadroom(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(100+topUpHeadroomPct))
	return out.Div(out, big.NewInt(100))
}

// weiFromDecimal convierte unidades humanas a wei del token.
func weiFromDecimal(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).Truncate(0).BigInt()
}

// sleepCtx espera respetando el contexto; false si el contexto murió antes.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
