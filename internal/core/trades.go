package core

import (
	"sort"
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
)

// tradeRing keeps the most recent trades in a fixed-size circular buffer.
type tradeRing struct {
	mu   sync.RWMutex
	buf  []domain.Trade
	next int
	size int
}

func newTradeRing(capacity int) *tradeRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &tradeRing{buf: make([]domain.Trade, capacity)}
}

func (r *tradeRing) add(t domain.Trade) {
	r.mu.Lock()
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	r.size = min(r.size+1, len(r.buf))
	r.mu.Unlock()
}

// recent returns up to limit trades, newest first. limit <= 0 means all held.
func (r *tradeRing) recent(limit int) []domain.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Trade, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}

func sortBySeq(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })
}
