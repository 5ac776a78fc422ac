package monitor

// monitor.go — vigilancia del tick del pool contra los límites de la posición.
//
// Una goroutine por posición monitorizada. Emite eventos SOLO en cruces de
// borde (dentro→fuera, fuera→dentro), nunca uno por poll. El temporizador de
// salida arranca al salir del rango y se cancela limpio al reentrar; si
// expira, se emite timeoutTriggered una única vez y el monitor termina.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

const defaultPollInterval = 3 * time.Second

// Config describe qué vigilar y con qué cadencia.
type Config struct {
	Pool      common.Address
	LowerTick int32
	UpperTick int32
	// Interval entre polls; 0 → defaultPollInterval.
	Interval time.Duration
	// Timeout fuera de rango antes de emitir timeoutTriggered; 0 → nunca.
	Timeout time.Duration
}

// Monitor vigila un pool y publica domain.RangeEvent en Events().
type Monitor struct {
	cfg    Config
	ticks  ports.TickSource
	events chan domain.RangeEvent

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New crea el monitor. Llamar a Start para arrancar la vigilancia.
func New(cfg Config, ticks ports.TickSource) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	return &Monitor{
		cfg:    cfg,
		ticks:  ticks,
		events: make(chan domain.RangeEvent, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events es el canal de salida. Se cierra cuando el monitor termina.
func (m *Monitor) Events() <-chan domain.RangeEvent {
	return m.events
}

// Start lanza la goroutine de vigilancia.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop detiene el monitor y espera a que la goroutine muera. Idempotente.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	defer close(m.events)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// el estado arranca "dentro": la posición se acaba de crear en rango
	inRange := true

	// temporizador de salida, activo solo mientras estamos fuera de rango
	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return

		case at := <-timerC:
			m.emit(domain.RangeEvent{Kind: domain.RangeTimeout, At: at.UTC()})
			return

		case <-ticker.C:
			tick, err := m.ticks.CurrentTick(ctx, m.cfg.Pool)
			if err != nil {
				// poll fallido: se conserva el último estado conocido
				slog.Warn("monitor: tick poll failed", "pool", m.cfg.Pool.Hex(), "err", err)
				continue
			}

			now := inside(tick, m.cfg.LowerTick, m.cfg.UpperTick)
			switch {
			case inRange && !now:
				inRange = false
				m.emit(domain.RangeEvent{Kind: domain.RangeExited, Tick: tick, At: time.Now().UTC()})
				if m.cfg.Timeout > 0 {
					timer = time.NewTimer(m.cfg.Timeout)
					timerC = timer.C
				}
			case !inRange && now:
				inRange = true
				stopTimer()
				m.emit(domain.RangeEvent{Kind: domain.RangeEntered, Tick: tick, At: time.Now().UTC()})
			}
		}
	}
}

func (m *Monitor) emit(evt domain.RangeEvent) {
	select {
	case m.events <- evt:
	default:
		slog.Warn("monitor: event channel full, dropping", "kind", evt.Kind)
	}
}

// inside usa el convenio de intervalos del AMM: [lower, upper).
func inside(tick, lower, upper int32) bool {
	return tick >= lower && tick < upper
}
