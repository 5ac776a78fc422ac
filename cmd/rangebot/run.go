package main

// run.go — modo paper: ejecución simulada (wallet, exchange y liquidez en
// memoria) opcionalmente alimentada por el tick real de un pool vía los
// endpoints RPC configurados. Nunca toca fondos reales.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/rangebot/config"
	"github.com/alejandrodnm/rangebot/internal/adapters/chain"
	"github.com/alejandrodnm/rangebot/internal/adapters/notify"
	"github.com/alejandrodnm/rangebot/internal/adapters/sim"
	"github.com/alejandrodnm/rangebot/internal/adapters/storage"
	"github.com/alejandrodnm/rangebot/internal/application/bus"
	"github.com/alejandrodnm/rangebot/internal/application/engine"
	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

// stopFile es la escotilla de emergencia: si aparece en el cwd, todas las
// instancias salen ordenadamente y el proceso termina.
const stopFile = "STOP"

const stopFilePollInterval = 2 * time.Second

type runOptions struct {
	offline      bool
	pool         string
	principal    string
	rangePct     float64
	swapSlippage float64
	lpSlippage   float64
	autoExit     bool
	exitTimeout  time.Duration
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	principal, err := decimal.NewFromString(opts.principal)
	if err != nil {
		return fmt.Errorf("parse principal %q: %w", opts.principal, err)
	}

	// mercado: demo local, o tick real del pool pedido vía el coordinador
	var (
		world  *sim.World
		ticks  ports.TickSource
		market ports.MarketReader
		co     *chain.Coordinator
	)
	if opts.offline || opts.pool == "" {
		world = demoWorld()
		ticks, market = world, world
		slog.Info("paper mode: fully simulated market", "pool", demoPoolAddress.Hex())
	} else {
		co = chain.NewCoordinator(cfg.DomainEndpoints(), cfg.Chain.ID, nil)
		if err := co.Start(ctx); err != nil {
			return fmt.Errorf("start rpc coordinator: %w", err)
		}
		defer co.Stop()

		reader := chain.NewPoolReader(co)
		snap, err := reader.Snapshot(ctx, common.HexToAddress(opts.pool))
		if err != nil {
			return fmt.Errorf("live pool snapshot: %w", err)
		}
		world = worldFromSnapshot(common.HexToAddress(opts.pool), snap)
		ticks, market = reader, reader
		slog.Info("paper mode: live market data, simulated execution",
			"pool", opts.pool, "endpoint", co.Current(),
			"token0", snap.Token0.Symbol, "token1", snap.Token1.Symbol, "tick", snap.Tick)
	}

	wallet, err := sim.NewWallet(cfg.Chain.ID)
	if err != nil {
		return err
	}
	w, _ := wallet.Wallet(ctx)

	// fondos de mentira: 3x el principal en el quote token
	poolAddr, quote := world.Quote()
	funding := principal.Mul(decimal.NewFromInt(3)).Shift(int32(quote.Meta.Decimals)).BigInt()
	world.SetBalance(w.Address, common.HexToAddress(quote.Meta.Address), funding)
	slog.Info("paper wallet funded",
		"address", w.Address.Hex(), "token", quote.Meta.Symbol, "amount", funding)

	store, err := storage.NewStateFile(cfg.Storage.StatePath, cfg.Storage.BackupsDir)
	if err != nil {
		return err
	}
	ledger, err := storage.NewLedger(cfg.Storage.LedgerDSN)
	if err != nil {
		return err
	}
	defer ledger.Close()

	events := bus.New()
	defer events.Close()
	console := notify.NewConsole()
	events.Subscribe("console", console.LogEvent)

	dust, ok := new(big.Int).SetString(cfg.Engine.DustThresholdWei, 10)
	if !ok {
		return fmt.Errorf("bad dust threshold %q", cfg.Engine.DustThresholdWei)
	}

	// el quote token del pool siempre es base currency; la config puede sumar más
	bases := []engine.BaseCurrency{{
		Symbol:   quote.Meta.Symbol,
		Address:  common.HexToAddress(quote.Meta.Address),
		Decimals: quote.Meta.Decimals,
	}}
	for _, bc := range cfg.Engine.BaseCurrencies {
		if common.HexToAddress(bc.Address) == common.HexToAddress(quote.Meta.Address) {
			continue
		}
		bases = append(bases, engine.BaseCurrency{
			Symbol:   bc.Symbol,
			Address:  common.HexToAddress(bc.Address),
			Decimals: bc.Decimals,
		})
		world.RegisterToken(sim.Token{
			Meta: domain.TokenMeta{Address: bc.Address, Symbol: bc.Symbol, Decimals: bc.Decimals},
			// sin precio simulado: el exchange la rechaza y el engine elige otra base
		})
	}

	eng := engine.New(engine.Config{
		Retry:          cfg.RetryPolicy(),
		BaseCurrencies: bases,
		DustThreshold:  dust,
		MinRangeTicks:  cfg.Engine.MinRangeTicks,
		MaxRangeTicks:  cfg.Engine.MaxRangeTicks,
		PollInterval:   cfg.PollInterval(),
	}, engine.Deps{
		Wallet:    wallet,
		Math:      sim.NewMath(),
		Liquidity: sim.NewLiquidity(world, w.Address),
		Exchange:  sim.NewExchange(world, w.Address),
		Balances:  world,
		Ticks:     ticks,
		Market:    market,
		Store:     store,
		Ledger:    ledger,
		Bus:       events,
	})

	if err := eng.LoadState(ctx); err != nil {
		return err
	}

	inst, err := eng.Create(ctx, domain.StrategyConfig{
		PoolAddress:     poolAddr.Hex(),
		Principal:       principal,
		SwapSlippagePct: opts.swapSlippage,
		LPSlippagePct:   opts.lpSlippage,
		RangePercent:    opts.rangePct,
		AutoExit:        opts.autoExit,
		ExitTimeout:     opts.exitTimeout,
	})
	if err != nil {
		return err
	}
	if err := eng.Start(ctx, inst.ID); err != nil {
		return err
	}

	go watchStopFile(ctx, eng)

	waitForEnd(ctx, eng, inst.ID)

	// apagado: parar runners sin liquidar, el estado queda persistido
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	eng.Stop(stopCtx)

	console.PrintInstances(eng.Instances())
	return nil
}

// waitForEnd bloquea hasta que la instancia llega a un estado terminal o el
// proceso recibe la señal de apagado.
func waitForEnd(ctx context.Context, eng *engine.Engine, id string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inst, ok := eng.Instance(id)
			if !ok || inst.Status.IsTerminal() {
				return
			}
		}
	}
}

// watchStopFile vigila el fichero STOP y dispara la salida global al verlo.
func watchStopFile(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(stopFilePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err != nil {
				continue
			}
			slog.Warn("STOP file detected, exiting all positions")
			os.Remove(stopFile)

			exitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			eng.ExitAll(exitCtx, domain.ExitReasonShutdown)
			cancel()
			return
		}
	}
}

// --- mundo demo ---

var demoPoolAddress = common.HexToAddress("0x36696169C63e42cd08ce11F5DeeBbCeBae652050")

// demoWorld construye el pool WBNB/USDT de juguete del modo offline.
func demoWorld() *sim.World {
	// tick tal que 1.0001^tick ≈ 600 (precio WBNB en USDT, mismos decimales)
	initialTick := int32(math.Round(math.Log(600) / math.Log(1.0001)))

	return sim.NewWorld(sim.PoolSpec{
		Address: demoPoolAddress,
		Token0: sim.Token{
			Meta:     domain.TokenMeta{Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Symbol: "WBNB", Decimals: 18},
			PriceUSD: 600,
		},
		Token1: sim.Token{
			Meta:     domain.TokenMeta{Address: "0x55d398326f99059fF775485246999027B3197955", Symbol: "USDT", Decimals: 18},
			PriceUSD: 1,
		},
		InitialTick: initialTick,
		TickSpacing: 10,
		FeePPM:      2500,
		StepTicks:   25,
	}, time.Now().UnixNano())
}

// worldFromSnapshot siembra el mundo simulado con los tokens y el tick reales
// del pool. El quote token se asume estable a $1; el otro se precia con el
// tipo de cambio del snapshot.
func worldFromSnapshot(pool common.Address, snap domain.MarketSnapshot) *sim.World {
	return sim.NewWorld(sim.PoolSpec{
		Address:     pool,
		Token0:      sim.Token{Meta: snap.Token0, PriceUSD: snap.Price0In1},
		Token1:      sim.Token{Meta: snap.Token1, PriceUSD: 1},
		InitialTick: snap.Tick,
		TickSpacing: snap.TickSpacing,
		FeePPM:      snap.FeePPM,
		// el tick real viene del RPC, el World no lo mueve
		StepTicks: 0,
	}, time.Now().UnixNano())
}
