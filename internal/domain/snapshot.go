package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Depth is an aggregated, immutable view of the book.
type Depth struct {
	Symbol    string       `json:"symbol"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
}

// Limit returns a copy of d truncated to n levels per side. n <= 0 means all.
func (d Depth) Limit(n int) Depth {
	out := d
	if n > 0 && len(out.Bids) > n {
		out.Bids = out.Bids[:n]
	}
	if n > 0 && len(out.Asks) > n {
		out.Asks = out.Asks[:n]
	}
	return out
}
