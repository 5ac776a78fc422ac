package chain

// failover.go — coordinador de failover RPC.
//
// Mantiene la lista priorizada de endpoints y expone "ejecuta esta operación
// contra el endpoint que funcione ahora mismo". La elección es lazy en cada
// llamada: se arranca en el último endpoint que funcionó y se avanza en orden
// de prioridad. El health-check de fondo es solo telemetría — nunca decide
// qué endpoint usan las operaciones en vuelo.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

const (
	healthCheckPeriod     = 30 * time.Second
	healthProbeTimeout    = 5 * time.Second
	sameEndpointRetryWait = 1 * time.Second
)

// Operation es cualquier llamada parametrizada por un handle de conexión vivo.
type Operation func(ctx context.Context, node Node) error

// Coordinator implementa el failover entre endpoints RPC.
// Seguro para uso concurrente desde múltiples instancias.
type Coordinator struct {
	endpoints []domain.Endpoint // ordenados por prioridad, desempate por declaración
	chainID   *big.Int
	dial      DialFunc

	mu       sync.RWMutex
	current  int // índice del último endpoint que funcionó
	conns    map[string]Node
	status   map[string]*domain.EndpointStatus
	limiters map[string]*rate.Limiter
	disabled map[string]bool // chain id equivocado: fuera para todo el proceso

	stopHealth chan struct{}
	healthDone chan struct{}
	stopOnce   sync.Once
}

// NewCoordinator construye el coordinador. dial == nil usa ethclient.
func NewCoordinator(endpoints []domain.Endpoint, chainID int64, dial DialFunc) *Coordinator {
	if dial == nil {
		dial = dialRPC
	}
	ranked := domain.RankEndpoints(endpoints)

	status := make(map[string]*domain.EndpointStatus, len(ranked))
	limiters := make(map[string]*rate.Limiter, len(ranked))
	for _, ep := range ranked {
		status[ep.URL] = &domain.EndpointStatus{URL: ep.URL, Name: ep.Name}
		if ep.RateLimit > 0 {
			limiters[ep.URL] = rate.NewLimiter(rate.Limit(ep.RateLimit), 5)
		}
	}

	return &Coordinator{
		endpoints:  ranked,
		chainID:    big.NewInt(chainID),
		dial:       dial,
		conns:      make(map[string]Node, len(ranked)),
		status:     status,
		limiters:   limiters,
		disabled:   make(map[string]bool),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
}

// Start elige el endpoint inicial con la misma estrategia de probing por
// prioridad (conectar, pedir block height, verificar chain id) y arranca el
// health-check de fondo. Falla duro solo si todos los endpoints fallan.
func (c *Coordinator) Start(ctx context.Context) error {
	var lastErr error
	chosen := -1

	for idx, ep := range c.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, ep.ConnectTimeout)
		err := c.probe(probeCtx, ep)
		cancel()
		if err != nil {
			lastErr = err
			slog.Warn("chain: initial probe failed", "endpoint", ep.Name, "err", err)
			continue
		}
		chosen = idx
		break
	}

	if chosen < 0 {
		return fmt.Errorf("chain.Start: %w: %w", domain.ErrAllEndpointsFailed, lastErr)
	}

	c.mu.Lock()
	c.current = chosen
	c.mu.Unlock()

	slog.Info("chain: coordinator started",
		"endpoint", c.endpoints[chosen].Name,
		"candidates", len(c.endpoints),
		"chain_id", c.chainID)

	go c.healthLoop()
	return nil
}

// probe conecta, pide el block height y verifica el chain id.
func (c *Coordinator) probe(ctx context.Context, ep domain.Endpoint) error {
	node, err := c.connect(ctx, ep)
	if err != nil {
		c.recordFailure(ep, err)
		return fmt.Errorf("dial %s: %w", ep.Name, err)
	}

	started := time.Now()
	block, err := node.BlockNumber(ctx)
	if err != nil {
		c.recordFailure(ep, err)
		c.dropConn(ep)
		return fmt.Errorf("block number %s: %w", ep.Name, err)
	}

	id, err := node.ChainID(ctx)
	if err != nil {
		c.recordFailure(ep, err)
		c.dropConn(ep)
		return fmt.Errorf("chain id %s: %w", ep.Name, err)
	}
	if id.Cmp(c.chainID) != 0 {
		err := fmt.Errorf("endpoint %s reports chain id %s, expected %s", ep.Name, id, c.chainID)
		c.recordFailure(ep, err)
		c.dropConn(ep)
		// chain equivocada: es un error de configuración, no transitorio
		c.mu.Lock()
		c.disabled[ep.URL] = true
		c.mu.Unlock()
		return err
	}

	c.recordSuccess(ep, block, time.Since(started))
	return nil
}

// Execute ejecuta la operación contra el primer endpoint que responda,
// empezando por el último que funcionó. Errores de red avanzan de inmediato
// al siguiente endpoint; otros errores reintentan el mismo endpoint hasta su
// maxRetries con 1s de espera. Agotados todos, devuelve un error terminal
// que envuelve el último error subyacente.
func (c *Coordinator) Execute(ctx context.Context, label string, op Operation) error {
	c.mu.RLock()
	start := c.current
	c.mu.RUnlock()

	total := len(c.endpoints)
	var lastErr error

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		idx := (start + i) % total
		ep := c.endpoints[idx]

		c.mu.RLock()
		skip := c.disabled[ep.URL]
		c.mu.RUnlock()
		if skip {
			continue
		}

		node, err := c.connect(ctx, ep)
		if err != nil {
			lastErr = err
			c.recordFailure(ep, err)
			slog.Debug("chain: dial failed, advancing", "op", label, "endpoint", ep.Name, "err", err)
			continue
		}

		advanced := false
		for attempt := 0; attempt <= ep.MaxRetries && !advanced; attempt++ {
			if lim := c.limiter(ep); lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return fmt.Errorf("chain.Execute %s: rate limiter: %w", label, err)
				}
			}

			opCtx, cancel := context.WithTimeout(ctx, ep.ConnectTimeout)
			started := time.Now()
			err = op(opCtx, node)
			elapsed := time.Since(started)
			cancel()

			if err == nil {
				c.markCurrent(idx)
				c.recordUse(ep, elapsed)
				return nil
			}
			lastErr = err

			if domain.IsPermanent(err) {
				c.recordFailure(ep, err)
				return err
			}

			switch domain.Classify(err) {
			case domain.KindNetwork, domain.KindTimeout:
				// vocabulario de fallo de red: siguiente endpoint ya
				c.recordFailure(ep, err)
				c.dropConn(ep)
				slog.Warn("chain: network failure, advancing endpoint",
					"op", label, "endpoint", ep.Name, "err", err)
				advanced = true
			default:
				c.recordFailure(ep, err)
				if attempt < ep.MaxRetries {
					slog.Debug("chain: retrying same endpoint",
						"op", label, "endpoint", ep.Name, "attempt", attempt+1, "err", err)
					select {
					case <-time.After(sameEndpointRetryWait):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no usable endpoints configured")
	}
	return fmt.Errorf("chain.Execute %s: %w: %w", label, domain.ErrAllEndpointsFailed, lastErr)
}

// Statuses devuelve una copia del estado de todos los endpoints, en orden
// de prioridad.
func (c *Coordinator) Statuses() []domain.EndpointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.EndpointStatus, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		if st, ok := c.status[ep.URL]; ok {
			out = append(out, *st)
		}
	}
	return out
}

// Current devuelve el nombre del endpoint activo.
func (c *Coordinator) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.current].Name
}

// Stop para el health loop y cierra las conexiones cacheadas. Idempotente.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopHealth)
		<-c.healthDone

		c.mu.Lock()
		defer c.mu.Unlock()
		for url, node := range c.conns {
			node.Close()
			delete(c.conns, url)
		}
	})
}

// healthLoop sondea el block height de cada endpoint con período fijo.
// Solo actualiza EndpointStatus; no toca el endpoint "current".
func (c *Coordinator) healthLoop() {
	defer close(c.healthDone)

	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealth:
			return
		case <-ticker.C:
			for _, ep := range c.endpoints {
				c.healthProbe(ep)
			}
		}
	}
}

func (c *Coordinator) healthProbe(ep domain.Endpoint) {
	c.mu.RLock()
	skip := c.disabled[ep.URL]
	c.mu.RUnlock()
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()

	node, err := c.connect(ctx, ep)
	if err != nil {
		c.recordFailure(ep, err)
		return
	}

	started := time.Now()
	block, err := node.BlockNumber(ctx)
	if err != nil {
		c.recordFailure(ep, err)
		c.dropConn(ep)
		return
	}
	c.recordSuccess(ep, block, time.Since(started))
}

// connect devuelve la conexión cacheada o establece una nueva (lazy).
func (c *Coordinator) connect(ctx context.Context, ep domain.Endpoint) (Node, error) {
	c.mu.RLock()
	node, ok := c.conns[ep.URL]
	c.mu.RUnlock()
	if ok {
		return node, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, ep.ConnectTimeout)
	defer cancel()
	fresh, err := c.dial(dialCtx, ep.URL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// otra goroutine pudo ganar la carrera
	if node, ok := c.conns[ep.URL]; ok {
		fresh.Close()
		return node, nil
	}
	c.conns[ep.URL] = fresh
	return fresh, nil
}

func (c *Coordinator) dropConn(ep domain.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if node, ok := c.conns[ep.URL]; ok {
		node.Close()
		delete(c.conns, ep.URL)
	}
}

func (c *Coordinator) limiter(ep domain.Endpoint) *rate.Limiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiters[ep.URL]
}

func (c *Coordinator) markCurrent(idx int) {
	c.mu.Lock()
	c.current = idx
	c.mu.Unlock()
}

func (c *Coordinator) recordSuccess(ep domain.Endpoint, block uint64, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[ep.URL]
	st.Healthy = true
	st.LastCheckedAt = time.Now().UTC()
	st.LastResponseMs = elapsed.Milliseconds()
	st.ConsecutiveErrors = 0
	st.LastError = ""
	st.LastKnownBlock = block
}

func (c *Coordinator) recordUse(ep domain.Endpoint, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[ep.URL]
	st.Healthy = true
	st.LastCheckedAt = time.Now().UTC()
	st.LastResponseMs = elapsed.Milliseconds()
	st.ConsecutiveErrors = 0
	st.LastError = ""
}

func (c *Coordinator) recordFailure(ep domain.Endpoint, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[ep.URL]
	st.Healthy = false
	st.LastCheckedAt = time.Now().UTC()
	st.ConsecutiveErrors++
	st.LastError = err.Error()
}
