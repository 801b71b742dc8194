package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
)

var _ port.Journal = (*Journal)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS engine_events (
	seq        BIGSERIAL PRIMARY KEY,
	symbol     TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS engine_events_symbol_seq ON engine_events (symbol, seq);
`

// Journal stores engine events for one symbol in the engine_events table.
type Journal struct {
	pool   *pgxpool.Pool
	symbol string
}

// call Close when finish to work with database.
func NewJournal(ctx context.Context, dsn, symbol string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Journal{pool: pool, symbol: symbol}, nil
}

func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
	}
}

// EnsureSchema creates the events table when missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: ensure schema: %w", err)
	}
	return nil
}

// Append writes all events in one transaction, so a batch is either fully
// journaled or not at all.
func (j *Journal) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := eventBatch(j.symbol, events)
	if err != nil {
		return err
	}
	return withTx(ctx, j.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("pg: append: %w", err)
		}
		return nil
	})
}

const insertEvent = `INSERT INTO engine_events(symbol, kind, payload, created_at) VALUES($1,$2,$3,$4)`

func eventBatch(symbol string, events []domain.Event) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("pg: encode %s event: %w", ev.Kind, err)
		}
		batch.Queue(insertEvent, symbol, string(ev.Kind), payload, ev.Timestamp)
	}
	return batch, nil
}

// Replay streams events in append order.
func (j *Journal) Replay(ctx context.Context, fn func(domain.Event) error) error {
	rows, err := j.pool.Query(ctx,
		`SELECT seq, payload FROM engine_events WHERE symbol = $1 ORDER BY seq ASC`, j.symbol)
	if err != nil {
		return fmt.Errorf("pg: replay: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("pg: replay scan: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("pg: decode event %d: %w", seq, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// withTx runs fn in a transaction and rolls back unless fn and the commit
// both succeed.
func withTx(ctx context.Context, db txBeginner, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	committed = true
	return nil
}
