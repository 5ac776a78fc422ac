package bus

// bus.go — bus de eventos de ciclo de vida para plugins.
//
// Regla de oro: publicar NUNCA bloquea al motor. Cada suscriptor tiene su
// propio canal con buffer y su propia goroutine consumidora; si el buffer se
// llena, el evento se descarta para ese suscriptor y se deja constancia en
// el log. Un plugin lento no puede frenar el pipeline.

import (
	"log/slog"
	"sync"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

const subscriberBuffer = 64

// Handler procesa un evento. Corre en la goroutine del suscriptor.
type Handler func(evt domain.Event)

type subscriber struct {
	name string
	ch   chan domain.Event
}

// Bus reparte eventos de ciclo de vida a los suscriptores registrados.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	wg     sync.WaitGroup
	closed bool
}

// New crea un bus vacío.
func New() *Bus {
	return &Bus{}
}

// Subscribe registra un handler con nombre (para el log de descartes).
// Los eventos llegan en orden de publicación, uno a uno por suscriptor.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	sub := &subscriber{name: name, ch: make(chan domain.Event, subscriberBuffer)}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range sub.ch {
			h(evt)
		}
	}()
}

// Publish entrega el evento a todos los suscriptores sin bloquear jamás.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("bus: subscriber buffer full, event dropped",
				"subscriber", sub.name, "event", evt.Name, "instance", evt.InstanceID)
		}
	}
}

// Close cierra los canales y espera a que los handlers drenen lo pendiente.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
