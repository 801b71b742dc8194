package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
)

// Journal keeps events in memory. Useful for tests and for running without
// persistence; FailNext makes the next Append fail.
type Journal struct {
	mu       sync.Mutex
	events   []domain.Event
	failNext error
}

var _ port.Journal = (*Journal)(nil)

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Append(ctx context.Context, events ...domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.failNext; err != nil {
		j.failNext = nil
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	j.events = append(j.events, events...)
	return nil
}

func (j *Journal) Replay(ctx context.Context, fn func(domain.Event) error) error {
	j.mu.Lock()
	events := append([]domain.Event(nil), j.events...)
	j.mu.Unlock()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) FailNext(err error) {
	j.mu.Lock()
	j.failNext = err
	j.mu.Unlock()
}

// Events returns a copy of everything appended so far.
func (j *Journal) Events() []domain.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Event(nil), j.events...)
}
