package ports

import (
	"context"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// StateStore persiste el mapa completo de instancias después de cada
// operación que afecta al estado. Save debe dejar backup del fichero
// anterior y podar a los 10 más recientes.
type StateStore interface {
	Save(ctx context.Context, instances map[string]*domain.StrategyInstance) error
	Load(ctx context.Context) (map[string]*domain.StrategyInstance, error)
}

// TradeLedger records executed swaps and lifecycle events for reporting.
// Ledger failures are logged, never fatal to the engine.
type TradeLedger interface {
	RecordSwap(ctx context.Context, instanceID string, swap domain.SwapRecord) error
	RecordEvent(ctx context.Context, evt domain.Event) error
	SwapsFor(ctx context.Context, instanceID string) ([]domain.SwapRecord, error)
	Close() error
}
