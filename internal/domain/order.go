package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Open            OrderStatus = "OPEN"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side an order of side s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderRequest is what a caller submits. ID, Seq and CreatedAt are only set
// when an accepted order is replayed from the journal.
type OrderRequest struct {
	ID        string
	AccountID string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal

	Seq       uint64
	CreatedAt time.Time
}

type Order struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled"`
	Status    OrderStatus     `json:"status"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Live reports whether the order may rest in the book.
func (o *Order) Live() bool {
	return o.Status == Open || o.Status == PartiallyFilled
}

// Fill records an execution of qty against the order and advances its status.
func (o *Order) Fill(qty decimal.Decimal, at time.Time) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThanOrEqual(o.Quantity) {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = at
}

func (o *Order) Cancel(at time.Time) {
	o.Status = Cancelled
	o.UpdatedAt = at
}

// Crosses reports whether o is willing to trade at the resting price.
func (o *Order) Crosses(restingPrice decimal.Decimal) bool {
	if o.Side == Buy {
		return o.Price.GreaterThanOrEqual(restingPrice)
	}
	return o.Price.LessThanOrEqual(restingPrice)
}

// SubmissionResult is returned by a successful submit. DurabilityErr is set
// when the in-memory match succeeded but the journal append failed.
type SubmissionResult struct {
	Order         Order
	Trades        []Trade
	Remainder     *Order
	DurabilityErr error
}
