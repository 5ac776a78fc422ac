package domain

import "time"

// Lifecycle event names published on the plugin bus. The payload shape per
// name is stable; consumers (p.ej. bookkeeping de P&L) se suscriben de forma
// independiente y nunca bloquean la publicación.
const (
	EventStrategyStarted = "strategy.started"
	EventPositionCreated = "position.created"
	EventSwapExecuted    = "swap.executed"
	EventPositionClosed  = "position.closed"
	EventStrategyEnded   = "strategy.ended"
)

// Event is one lifecycle notification.
type Event struct {
	Name       string         `json:"name"`
	InstanceID string         `json:"instance_id"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// RangeEventKind clasifica las transiciones del monitor de rango.
type RangeEventKind string

const (
	RangeEntered RangeEventKind = "enteredRange"
	RangeExited  RangeEventKind = "exitedRange"
	RangeTimeout RangeEventKind = "timeoutTriggered"
)

// RangeEvent is emitted by the price range monitor on true edge crossings
// and on timeout expiry — never once per poll.
type RangeEvent struct {
	Kind RangeEventKind
	Tick int32
	At   time.Time
}
