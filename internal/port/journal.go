package port

import (
	"context"

	"github.com/olyamironova/token-exchange/internal/domain"
)

// Journal is the append-only log the engine writes after every accepted
// state transition. Replay must yield events in append order.
type Journal interface {
	Append(ctx context.Context, events ...domain.Event) error
	Replay(ctx context.Context, fn func(domain.Event) error) error
}
