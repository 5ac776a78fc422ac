package engine

// engine.go — orquestación del ciclo de vida de las instancias de estrategia.
//
// El engine es el único escritor del mapa de instancias: toda mutación pasa
// por mutate(), que persiste el mapa completo tras aplicar el cambio. Cada
// instancia arrancada corre en su propia goroutine (runner) ejecutando el
// pipeline de pipeline.go.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alejandrodnm/rangebot/internal/application/bus"
	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

// BaseCurrency es un candidato del set fijo de monedas base con las que se
// cubren shortfalls y a las que se liquida en la salida.
type BaseCurrency struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Config agrupa los parámetros compartidos por todas las instancias.
type Config struct {
	Retry          domain.RetryPolicy
	BaseCurrencies []BaseCurrency
	// DustThreshold en wei: por debajo no se hace swap ni liquidación.
	DustThreshold *big.Int
	MinRangeTicks int32
	MaxRangeTicks int32
	PollInterval  time.Duration
}

// Deps son los colaboradores del engine, inyectados explícitamente.
type Deps struct {
	Wallet    ports.WalletStore
	Math      ports.PositionMath
	Liquidity ports.LiquidityProvider
	Exchange  ports.Exchange
	Balances  ports.BalanceReader
	Ticks     ports.TickSource
	Market    ports.MarketReader
	Store     ports.StateStore
	Ledger    ports.TradeLedger
	Bus       *bus.Bus
}

// runner es el estado en memoria de una instancia en ejecución.
type runner struct {
	cancel  context.CancelFunc
	done    chan struct{}
	exitReq chan domain.ExitReason
}

// Engine gestiona las instancias de estrategia.
type Engine struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	instances map[string]*domain.StrategyInstance
	runners   map[string]*runner
}

// New crea el engine. Llamar a LoadState antes de operar si hay estado previo.
func New(cfg Config, deps Deps) *Engine {
	if cfg.DustThreshold == nil {
		cfg.DustThreshold = big.NewInt(0)
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		instances: map[string]*domain.StrategyInstance{},
		runners:   map[string]*runner{},
	}
}

// LoadState recupera las instancias persistidas. Las que quedaron en estados
// intermedios (RUNNING, EXITING...) no se relanzan solas: quedan tal cual
// para inspección y restart manual.
func (e *Engine) LoadState(ctx context.Context) error {
	instances, err := e.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine.LoadState: %w", err)
	}

	e.mu.Lock()
	e.instances = instances
	e.mu.Unlock()

	slog.Info("engine: state loaded", "instances", len(instances))
	return nil
}

// Create registra una instancia nueva en estado INITIALIZED.
func (e *Engine) Create(ctx context.Context, cfg domain.StrategyConfig) (*domain.StrategyInstance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine.Create: %w", err)
	}

	inst := &domain.StrategyInstance{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    domain.StatusInitialized,
		CreatedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.instances[inst.ID] = inst
	e.mu.Unlock()
	e.persist(ctx)

	slog.Info("engine: instance created", "id", inst.ID, "pool", cfg.PoolAddress)
	return inst.Clone(), nil
}

// Start lanza el pipeline de una instancia INITIALIZED.
func (e *Engine) Start(ctx context.Context, id string) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine.Start: unknown instance %s", id)
	}
	if inst.Status != domain.StatusInitialized {
		e.mu.Unlock()
		return fmt.Errorf("engine.Start: instance %s is %s, expected %s", id, inst.Status, domain.StatusInitialized)
	}
	if _, running := e.runners[id]; running {
		e.mu.Unlock()
		return fmt.Errorf("engine.Start: instance %s already has a runner", id)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{
		cancel:  cancel,
		done:    make(chan struct{}),
		exitReq: make(chan domain.ExitReason, 1),
	}
	e.runners[id] = r
	e.mu.Unlock()

	go func() {
		defer close(r.done)
		defer func() {
			e.mu.Lock()
			delete(e.runners, id)
			e.mu.Unlock()
		}()
		e.run(runCtx, id, r)
	}()

	return nil
}

// ForceExit pide la salida ordenada de una instancia en ejecución.
func (e *Engine) ForceExit(ctx context.Context, id string, reason domain.ExitReason) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine.ForceExit: unknown instance %s", id)
	}
	r, running := e.runners[id]
	status := inst.Status
	e.mu.Unlock()

	if !running {
		return fmt.Errorf("engine.ForceExit: instance %s is not running (status %s)", id, status)
	}

	select {
	case r.exitReq <- reason:
	default:
		// ya hay una salida en vuelo
	}
	return nil
}

// ExitAll pide la salida ordenada de todas las instancias en ejecución y
// espera a que terminen. Pensado para el apagado con liquidación.
func (e *Engine) ExitAll(ctx context.Context, reason domain.ExitReason) {
	e.mu.Lock()
	waiting := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		select {
		case r.exitReq <- reason:
		default:
		}
		waiting = append(waiting, r)
	}
	e.mu.Unlock()

	for _, r := range waiting {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

// Pause detiene el runner de una instancia sin liquidar: la posición queda
// abierta y persistida, la instancia en PAUSED hasta un Restart.
func (e *Engine) Pause(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.instances[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine.Pause: unknown instance %s", id)
	}
	r, running := e.runners[id]
	e.mu.Unlock()

	if !running {
		return fmt.Errorf("engine.Pause: instance %s has no active runner", id)
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("engine.Pause: waiting for runner: %w", ctx.Err())
	}

	err := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		if inst.Status.IsTerminal() {
			// el runner terminó por su cuenta justo antes de la cancelación
			return fmt.Errorf("instance ended as %s before the pause took effect", inst.Status)
		}
		inst.Status = domain.StatusPaused
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine.Pause: %w", err)
	}

	slog.Info("engine: instance paused", "id", id)
	return nil
}

// Restart rearma una instancia terminal o pausada: limpia los campos
// transitorios, incrementa el contador y la relanza. Los bounds derivados de
// RangePercent se recalculan con el tick actual del nuevo arranque, nunca se
// reutilizan los viejos.
func (e *Engine) Restart(ctx context.Context, id string) error {
	err := e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		if !inst.Status.IsTerminal() && inst.Status != domain.StatusPaused {
			return fmt.Errorf("instance is %s, restart requires a terminal or paused status", inst.Status)
		}
		if inst.Position != nil && inst.Exit == nil {
			// pausada con la posición abierta: sigue viva on-chain, aquí solo
			// se pierde el registro
			slog.Warn("engine: restarting instance with an unclosed position",
				"id", id, "position", inst.Position.PositionID)
		}
		inst.Status = domain.StatusInitialized
		inst.Restarts++
		inst.StartedAt = nil
		inst.MonitoringAt = nil
		inst.ExitedAt = nil
		inst.EndedAt = nil
		inst.LastError = ""
		inst.Market = nil
		inst.AssetPrep = nil
		inst.Position = nil
		inst.Exit = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine.Restart: %w", err)
	}
	return e.Start(ctx, id)
}

// Delete elimina una instancia terminal del estado.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine.Delete: unknown instance %s", id)
	}
	if !inst.Status.IsTerminal() {
		e.mu.Unlock()
		return fmt.Errorf("engine.Delete: instance %s is %s, delete requires a terminal status", id, inst.Status)
	}
	delete(e.instances, id)
	e.mu.Unlock()

	e.persist(ctx)
	slog.Info("engine: instance deleted", "id", id)
	return nil
}

// Instance devuelve una copia de la instancia pedida.
func (e *Engine) Instance(id string) (*domain.StrategyInstance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

// Instances devuelve copias de todas las instancias.
func (e *Engine) Instances() []*domain.StrategyInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.StrategyInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst.Clone())
	}
	return out
}

// Stop cancela todos los runners sin liquidar posiciones: el estado queda
// persistido tal cual para retomar en el siguiente arranque.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	waiting := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		r.cancel()
		waiting = append(waiting, r)
	}
	e.mu.Unlock()

	for _, r := range waiting {
		select {
		case <-r.done:
		case <-ctx.Done():
			slog.Warn("engine: stop timed out waiting for runners")
			return
		}
	}
	e.persist(ctx)
}

// mutate aplica fn sobre la instancia bajo el lock y persiste el resultado.
// Si fn devuelve error, no se persiste nada.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*domain.StrategyInstance) error) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown instance %s", id)
	}
	if err := fn(inst); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.persist(ctx)
	return nil
}

// persist guarda el mapa completo. Un fallo de persistencia se loguea pero
// no tumba la operación: el estado en memoria sigue siendo la verdad.
func (e *Engine) persist(ctx context.Context) {
	e.mu.Lock()
	snapshot := make(map[string]*domain.StrategyInstance, len(e.instances))
	for id, inst := range e.instances {
		snapshot[id] = inst.Clone()
	}
	e.mu.Unlock()

	if err := e.deps.Store.Save(ctx, snapshot); err != nil {
		slog.Error("engine: state persist failed", "err", err)
	}
}

// publish emite el evento en el bus y lo apunta en el ledger.
func (e *Engine) publish(ctx context.Context, name, instanceID string, payload map[string]any) {
	evt := domain.Event{
		Name:       name,
		InstanceID: instanceID,
		At:         time.Now().UTC(),
		Payload:    payload,
	}
	e.deps.Bus.Publish(evt)
	if e.deps.Ledger != nil {
		if err := e.deps.Ledger.RecordEvent(ctx, evt); err != nil {
			slog.Warn("engine: ledger event write failed", "event", name, "err", err)
		}
	}
}

// setError marca la instancia como fallida y persiste.
func (e *Engine) setError(ctx context.Context, id string, cause error) {
	slog.Error("engine: instance failed", "id", id, "err", cause)
	_ = e.mutate(ctx, id, func(inst *domain.StrategyInstance) error {
		inst.Status = domain.StatusError
		inst.LastError = cause.Error()
		now := time.Now().UTC()
		inst.EndedAt = &now
		return nil
	})
	e.publish(ctx, domain.EventStrategyEnded, id, map[string]any{
		"status": string(domain.StatusError),
		"error":  cause.Error(),
	})
}
