package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one fill. Price is always the resting order's limit price.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	BuyOrder    string          `json:"buy_order"`
	SellOrder   string          `json:"sell_order"`
	BuyAccount  string          `json:"buy_account"`
	SellAccount string          `json:"sell_account"`
	Aggressor   Side            `json:"aggressor"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
