package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
	"go.uber.org/zap"
)

// ReplayStats summarizes a Restore run.
type ReplayStats struct {
	Events    int
	Accounts  int
	Orders    int
	Cancels   int
	Trades    int // regenerated by matching
	Journaled int // trade events found in the journal
}

// Restore rebuilds an empty engine from a journal. Accepted orders are
// re-matched with their original ids, sequence numbers and timestamps, so
// the regenerated trades and balance deltas must equal the journaled ones,
// field by field and in order. Nothing is appended to the engine's own
// journal while replaying.
func (e *Engine) Restore(ctx context.Context, j port.Journal) (ReplayStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats ReplayStats
	if e.seq != 0 || len(e.orders) > 0 {
		return stats, errors.New("restore: engine already has state")
	}

	var regenerated, journaled []domain.Event
	var lastChange time.Time
	err := j.Replay(ctx, func(ev domain.Event) error {
		stats.Events++
		switch ev.Kind {
		case domain.EventAccountOpened:
			if ev.Account == nil {
				return fmt.Errorf("%w: account event without payload", domain.ErrInvariantViolation)
			}
			stats.Accounts++
			return e.ledger.Open(ev.Account.AccountID, ev.Account.Token, ev.Account.Fiat)
		case domain.EventOrderAccepted:
			if ev.Order == nil {
				return fmt.Errorf("%w: order event without payload", domain.ErrInvariantViolation)
			}
			stats.Orders++
			lastChange = ev.Timestamp
			res, events, err := e.submitLocked(requestFor(ev.Order))
			if err != nil {
				return fmt.Errorf("order %s: %w", ev.Order.ID, err)
			}
			stats.Trades += len(res.Trades)
			for _, ev := range events {
				if ev.Kind == domain.EventTrade || ev.Kind == domain.EventBalanceDelta {
					regenerated = append(regenerated, ev)
				}
			}
		case domain.EventOrderCancelled:
			stats.Cancels++
			lastChange = ev.Timestamp
			if _, err := e.cancelLocked(ev.OrderID, ev.AccountID, ev.Timestamp); err != nil {
				return fmt.Errorf("cancel %s: %w", ev.OrderID, err)
			}
		case domain.EventTrade:
			stats.Journaled++
			journaled = append(journaled, ev)
		case domain.EventBalanceDelta:
			journaled = append(journaled, ev)
		default:
			e.logger.Warn("skipping unknown journal event", zap.String("kind", string(ev.Kind)))
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("restore: %w", err)
	}
	if stats.Trades != stats.Journaled {
		return stats, fmt.Errorf("restore: %w: matching produced %d trades, journal holds %d",
			domain.ErrInvariantViolation, stats.Trades, stats.Journaled)
	}
	if len(regenerated) != len(journaled) {
		return stats, fmt.Errorf("restore: %w: matching produced %d audit events, journal holds %d",
			domain.ErrInvariantViolation, len(regenerated), len(journaled))
	}
	for i := range regenerated {
		if err := sameAudit(regenerated[i], journaled[i]); err != nil {
			return stats, fmt.Errorf("restore: %w: audit event %d: %w", domain.ErrInvariantViolation, i, err)
		}
	}

	e.publishDepth(lastChange)
	e.logger.Info("state restored from journal",
		zap.Int("events", stats.Events), zap.Int("accounts", stats.Accounts),
		zap.Int("orders", stats.Orders), zap.Int("cancels", stats.Cancels),
		zap.Int("trades", stats.Trades), zap.Int("resting", e.book.Len()))
	return stats, nil
}

func requestFor(o *domain.Order) domain.OrderRequest {
	return domain.OrderRequest{
		ID:        o.ID,
		AccountID: o.AccountID,
		Side:      o.Side,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Seq:       o.Seq,
		CreatedAt: o.CreatedAt,
	}
}

// sameAudit compares a regenerated trade or balance delta with its journaled
// counterpart.
func sameAudit(got, want domain.Event) error {
	if got.Kind != want.Kind {
		return fmt.Errorf("kind %s, journal has %s", got.Kind, want.Kind)
	}
	switch got.Kind {
	case domain.EventTrade:
		g, w := got.Trade, want.Trade
		if w == nil {
			return errors.New("journaled trade without payload")
		}
		if g.ID != w.ID || g.BuyOrder != w.BuyOrder || g.SellOrder != w.SellOrder ||
			!g.Price.Equal(w.Price) || !g.Quantity.Equal(w.Quantity) {
			return fmt.Errorf("trade %s %s@%s differs from journaled %s %s@%s",
				g.ID, g.Quantity, g.Price, w.ID, w.Quantity, w.Price)
		}
	case domain.EventBalanceDelta:
		g, w := got.Delta, want.Delta
		if w == nil {
			return errors.New("journaled balance delta without payload")
		}
		if g.AccountID != w.AccountID || g.TradeID != w.TradeID ||
			!g.Token.Equal(w.Token) || !g.Fiat.Equal(w.Fiat) {
			return fmt.Errorf("delta for %s on %s differs from journal", g.AccountID, g.TradeID)
		}
	}
	return nil
}
