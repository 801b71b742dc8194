package pg

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx records how a transaction was finished; the embedded nil pgx.Tx
// panics if anything else is called.
type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("commits on success", func(t *testing.T) {
		tx := &fakeTx{}
		require.NoError(t, withTx(ctx, fakeBeginner{tx: tx}, func(pgx.Tx) error { return nil }))
		assert.True(t, tx.committed)
		assert.False(t, tx.rolledBack)
	})
	t.Run("rolls back when fn fails", func(t *testing.T) {
		tx := &fakeTx{}
		err := withTx(ctx, fakeBeginner{tx: tx}, func(pgx.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
	})
	t.Run("rolls back when commit fails", func(t *testing.T) {
		tx := &fakeTx{commitErr: boom}
		err := withTx(ctx, fakeBeginner{tx: tx}, func(pgx.Tx) error { return nil })
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "pg: commit")
		assert.True(t, tx.rolledBack)
	})
	t.Run("begin failure", func(t *testing.T) {
		err := withTx(ctx, fakeBeginner{err: boom}, func(pgx.Tx) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.ErrorIs(t, err, boom)
	})
}

func sampleEvents() []domain.Event {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []domain.Event{
		{Kind: domain.EventAccountOpened, Timestamp: at, Account: &domain.Balance{
			AccountID: "alice", Fiat: decimal.RequireFromString("1000"),
		}},
		{Kind: domain.EventOrderCancelled, Timestamp: at.Add(time.Second), OrderID: "o-1", AccountID: "alice"},
	}
}

func TestEventBatch(t *testing.T) {
	evs := sampleEvents()
	batch, err := eventBatch("TKN/USD", evs)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())

	q := batch.QueuedQueries[1]
	assert.Equal(t, insertEvent, q.SQL)
	require.Len(t, q.Arguments, 4)
	assert.Equal(t, "TKN/USD", q.Arguments[0])
	assert.Equal(t, "order_cancelled", q.Arguments[1])
	assert.Equal(t, evs[1].Timestamp, q.Arguments[3])

	var ev domain.Event
	require.NoError(t, json.Unmarshal(q.Arguments[2].([]byte), &ev))
	assert.Equal(t, "o-1", ev.OrderID)
}

// TestJournal_Postgres runs against a real database when
// EXCHANGE_TEST_POSTGRES_DSN is set.
func TestJournal_Postgres(t *testing.T) {
	dsn := os.Getenv("EXCHANGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	symbol := "TEST-" + uuid.NewString()
	j, err := NewJournal(ctx, dsn, symbol)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.EnsureSchema(ctx))
	t.Cleanup(func() {
		_, _ = j.pool.Exec(context.Background(), `DELETE FROM engine_events WHERE symbol = $1`, symbol)
	})

	evs := sampleEvents()
	require.NoError(t, j.Append(ctx, evs[0]))
	require.NoError(t, j.Append(ctx, evs[1]))

	var got []domain.Event
	require.NoError(t, j.Replay(ctx, func(ev domain.Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventAccountOpened, got[0].Kind)
	assert.Equal(t, "1000", got[0].Account.Fiat.String())
	assert.Equal(t, "o-1", got[1].OrderID)
}
