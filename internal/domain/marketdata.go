package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// MarketData is derived from the trade stream only. A zero LastPrice means
// nothing has traded yet.
type MarketData struct {
	Symbol       string          `json:"symbol"`
	LastPrice    decimal.Decimal `json:"last_price"`
	High24h      decimal.Decimal `json:"high_24h"`
	Low24h       decimal.Decimal `json:"low_24h"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	TotalSupply  decimal.Decimal `json:"total_supply"`
	MarketCap    decimal.Decimal `json:"market_cap"`
	TradeCount   uint64          `json:"trade_count"`
	PriceHistory []PricePoint    `json:"price_history"`
	Candles      []Candle        `json:"candles"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (m MarketData) HasPrice() bool { return m.LastPrice.IsPositive() }
