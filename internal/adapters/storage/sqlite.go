package storage

// sqlite.go — ledger de trades y eventos de ciclo de vida.
//
// El estado operativo vive en el fichero JSON (statefile.go); el SQLite es
// el histórico append-only para reporting: cada swap ejecutado y cada evento
// publicado en el bus. Prune automático al arrancar: > 90 días fuera.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/rangebot/internal/domain"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS swaps (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT     NOT NULL,
    tx_hash     TEXT     NOT NULL,
    from_token  TEXT     NOT NULL,
    to_token    TEXT     NOT NULL,
    from_amount TEXT     NOT NULL,
    to_amount   TEXT     NOT NULL,
    executed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT     NOT NULL,
    name        TEXT     NOT NULL,
    at          DATETIME NOT NULL,
    payload     TEXT
);

CREATE INDEX IF NOT EXISTS idx_swaps_instance  ON swaps(instance_id);
CREATE INDEX IF NOT EXISTS idx_events_instance ON events(instance_id);
CREATE INDEX IF NOT EXISTS idx_events_at       ON events(at DESC);
`

const ledgerRetention = 90 * 24 * time.Hour

// Ledger implementa ports.TradeLedger usando SQLite (pure Go, sin CGo).
type Ledger struct {
	db *sql.DB
}

// NewLedger abre (o crea) la base de datos en la ruta dada.
func NewLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewLedger: apply schema: %w", err)
	}

	l := &Ledger{db: db}
	l.pruneOld(context.Background())
	return l, nil
}

// RecordSwap inserta un trade ejecutado.
func (l *Ledger) RecordSwap(ctx context.Context, instanceID string, swap domain.SwapRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO swaps (instance_id, tx_hash, from_token, to_token, from_amount, to_amount, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		instanceID, swap.TxHash, swap.FromToken, swap.ToToken,
		swap.FromAmount, swap.ToAmount, swap.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSwap: %w", err)
	}
	return nil
}

// RecordEvent inserta un evento de ciclo de vida.
func (l *Ledger) RecordEvent(ctx context.Context, evt domain.Event) error {
	var payload []byte
	if evt.Payload != nil {
		var err error
		payload, err = json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("storage.RecordEvent: marshal payload: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (instance_id, name, at, payload)
		VALUES (?, ?, ?, ?)`,
		evt.InstanceID, evt.Name, evt.At.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordEvent: %w", err)
	}
	return nil
}

// SwapsFor devuelve los trades de una instancia, en orden de ejecución.
func (l *Ledger) SwapsFor(ctx context.Context, instanceID string) ([]domain.SwapRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tx_hash, from_token, to_token, from_amount, to_amount, executed_at
		FROM swaps WHERE instance_id = ? ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("storage.SwapsFor: %w", err)
	}
	defer rows.Close()

	var out []domain.SwapRecord
	for rows.Next() {
		var s domain.SwapRecord
		if err := rows.Scan(&s.TxHash, &s.FromToken, &s.ToToken, &s.FromAmount, &s.ToAmount, &s.ExecutedAt); err != nil {
			return nil, fmt.Errorf("storage.SwapsFor: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close cierra la base de datos.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-ledgerRetention)
	l.db.ExecContext(ctx, `DELETE FROM swaps WHERE executed_at < ?`, cutoff)
	l.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, cutoff)
}
