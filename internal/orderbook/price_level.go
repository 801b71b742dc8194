package orderbook

import (
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

// entry links a resting order into its level's FIFO queue.
type entry struct {
	order *domain.Order
	level *priceLevel
	prev  *entry
	next  *entry
}

// priceLevel is the FIFO queue of orders resting at one price. total is the
// sum of their remaining quantities.
type priceLevel struct {
	price decimal.Decimal
	head  *entry
	tail  *entry
	total decimal.Decimal
	count int
}

func (p *priceLevel) enqueue(e *entry) {
	e.level = p
	if p.head == nil {
		p.head = e
		p.tail = e
	} else {
		p.tail.next = e
		e.prev = p.tail
		p.tail = e
	}
	p.total = p.total.Add(e.order.Remaining())
	p.count++
}

func (p *priceLevel) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		p.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		p.tail = e.prev
	}
	p.total = p.total.Sub(e.order.Remaining())
	if p.total.IsNegative() {
		p.total = decimal.Zero
	}
	p.count--
	e.prev, e.next, e.level = nil, nil, nil
}

func (p *priceLevel) empty() bool { return p.head == nil }
