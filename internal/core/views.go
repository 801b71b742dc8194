package core

import (
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
)

// orderViews holds copies of orders for readers. It is updated at the end of
// each change while the engine lock is held, and read without that lock.
type orderViews struct {
	mu   sync.RWMutex
	byID map[string]domain.Order
	live map[string]map[string]struct{} // account id -> live order ids
}

func newOrderViews() *orderViews {
	return &orderViews{
		byID: make(map[string]domain.Order),
		live: make(map[string]map[string]struct{}),
	}
}

func (v *orderViews) put(o *domain.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byID[o.ID] = *o
	ids := v.live[o.AccountID]
	if o.Live() {
		if ids == nil {
			ids = make(map[string]struct{})
			v.live[o.AccountID] = ids
		}
		ids[o.ID] = struct{}{}
		return
	}
	delete(ids, o.ID)
	if len(ids) == 0 {
		delete(v.live, o.AccountID)
	}
}

func (v *orderViews) get(id string) (domain.Order, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	o, ok := v.byID[id]
	return o, ok
}

func (v *orderViews) liveFor(accountID string) []domain.Order {
	v.mu.RLock()
	out := make([]domain.Order, 0, len(v.live[accountID]))
	for id := range v.live[accountID] {
		out = append(out, v.byID[id])
	}
	v.mu.RUnlock()
	sortBySeq(out)
	return out
}
