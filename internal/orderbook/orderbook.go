// Package orderbook keeps resting orders in price-time priority.
//
// Each side is a B-tree of price levels ordered best-first, and every level
// is a FIFO queue, so inserting is O(log n), the best level is cached for
// O(1) access and no mutation ever re-sorts the book. Prices are
// decimal.Decimal and compared exactly.
//
// An OrderBook is not safe for concurrent use; the engine serializes access.
package orderbook

import (
	"fmt"
	"iter"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

const btreeDegree = 32

type bookSide struct {
	levels *btree.BTreeG[*priceLevel]
	less   func(a, b *priceLevel) bool
	best   *priceLevel
}

func newBookSide(less func(a, b *priceLevel) bool) *bookSide {
	return &bookSide{
		levels: btree.NewBTreeGOptions(less, btree.Options{Degree: btreeDegree, NoLocks: true}),
		less:   less,
	}
}

func (s *bookSide) level(price decimal.Decimal) (*priceLevel, bool) {
	return s.levels.Get(&priceLevel{price: price})
}

func (s *bookSide) upsert(price decimal.Decimal) *priceLevel {
	if lvl, ok := s.level(price); ok {
		return lvl
	}
	lvl := &priceLevel{price: price}
	s.levels.Set(lvl)
	if s.best == nil || s.less(lvl, s.best) {
		s.best = lvl
	}
	return lvl
}

func (s *bookSide) drop(lvl *priceLevel) {
	s.levels.Delete(lvl)
	if s.best == lvl {
		s.best, _ = s.levels.Min()
	}
}

// after returns the first level strictly worse than price.
func (s *bookSide) after(price decimal.Decimal) *priceLevel {
	var found *priceLevel
	s.levels.Ascend(&priceLevel{price: price}, func(l *priceLevel) bool {
		if l.price.Equal(price) {
			return true
		}
		found = l
		return false
	})
	return found
}

type OrderBook struct {
	symbol string
	bids   *bookSide
	asks   *bookSide
	index  map[string]*entry
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		// bids: highest price first
		bids: newBookSide(func(a, b *priceLevel) bool { return a.price.GreaterThan(b.price) }),
		// asks: lowest price first
		asks:  newBookSide(func(a, b *priceLevel) bool { return a.price.LessThan(b.price) }),
		index: make(map[string]*entry),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

func (ob *OrderBook) side(s domain.Side) *bookSide {
	if s == domain.Buy {
		return ob.bids
	}
	return ob.asks
}

// Insert appends o to the back of its price level. Orders reach the book in
// submission order, so appending preserves time priority within a level.
func (ob *OrderBook) Insert(o *domain.Order) error {
	if !o.Live() || !o.Remaining().IsPositive() {
		return fmt.Errorf("orderbook: order %s is not restable (status %s)", o.ID, o.Status)
	}
	if _, ok := ob.index[o.ID]; ok {
		return fmt.Errorf("orderbook: duplicate order %s", o.ID)
	}
	e := &entry{order: o}
	ob.side(o.Side).upsert(o.Price).enqueue(e)
	ob.index[o.ID] = e
	return nil
}

// Remove takes an order out of the book, dropping its level when emptied.
func (ob *OrderBook) Remove(orderID string) (*domain.Order, bool) {
	e, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	lvl := e.level
	lvl.unlink(e)
	if lvl.empty() {
		ob.side(e.order.Side).drop(lvl)
	}
	delete(ob.index, orderID)
	return e.order, true
}

// Reduce keeps the level total in step after qty of a resting order has been
// filled. The caller has already applied the fill to the order itself.
func (ob *OrderBook) Reduce(orderID string, qty decimal.Decimal) {
	e, ok := ob.index[orderID]
	if !ok {
		return
	}
	e.level.total = e.level.total.Sub(qty)
}

func (ob *OrderBook) Get(orderID string) (*domain.Order, bool) {
	e, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	return e.order, true
}

func (ob *OrderBook) BestBid() *domain.Order { return ob.bids.bestOrder() }
func (ob *OrderBook) BestAsk() *domain.Order { return ob.asks.bestOrder() }

func (s *bookSide) bestOrder() *domain.Order {
	if s.best == nil {
		return nil
	}
	return s.best.head.order
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.index) }

// PeekCrossed yields the opposing orders o may trade against, best price
// first and oldest first within a price. The sequence is lazy: the book is
// re-queried at every level boundary, so the caller may fill and remove the
// order it was just handed. It can be ranged over once; a new matching pass
// needs a new call.
func (ob *OrderBook) PeekCrossed(o *domain.Order) iter.Seq[*domain.Order] {
	opp := ob.side(o.Side.Opposite())
	used := false
	return func(yield func(*domain.Order) bool) {
		if used {
			return
		}
		used = true
		for lvl := opp.best; lvl != nil; lvl = opp.after(lvl.price) {
			if !o.Crosses(lvl.price) {
				return
			}
			for e := lvl.head; e != nil; {
				next := e.next
				if !yield(e.order) {
					return
				}
				e = next
			}
		}
	}
}

// Depth aggregates up to limit levels per side; limit <= 0 means all.
func (ob *OrderBook) Depth(limit int, seq uint64, at time.Time) domain.Depth {
	return domain.Depth{
		Symbol:    ob.symbol,
		Bids:      ob.bids.aggregate(limit),
		Asks:      ob.asks.aggregate(limit),
		Seq:       seq,
		Timestamp: at,
	}
}

func (s *bookSide) aggregate(limit int) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, min(s.levels.Len(), max(limit, 0)))
	s.levels.Scan(func(l *priceLevel) bool {
		out = append(out, domain.DepthLevel{Price: l.price, Quantity: l.total, Orders: l.count})
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Orders returns the resting orders of one side in priority order.
func (ob *OrderBook) Orders(side domain.Side) []*domain.Order {
	var out []*domain.Order
	ob.side(side).levels.Scan(func(l *priceLevel) bool {
		for e := l.head; e != nil; e = e.next {
			out = append(out, e.order)
		}
		return true
	})
	return out
}
