package dto

import (
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

type OpenAccountRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Token     decimal.Decimal `json:"token"`
	Fiat      decimal.Decimal `json:"fiat"`
}

type Balance struct {
	AccountID      string          `json:"account_id"`
	Token          decimal.Decimal `json:"token"`
	Fiat           decimal.Decimal `json:"fiat"`
	TokenReserved  decimal.Decimal `json:"token_reserved"`
	FiatReserved   decimal.Decimal `json:"fiat_reserved"`
	TokenAvailable decimal.Decimal `json:"token_available"`
	FiatAvailable  decimal.Decimal `json:"fiat_available"`
}

// SubmitOrderRequest falls back to the X-Account-ID header when AccountID
// is empty.
type SubmitOrderRequest struct {
	AccountID string          `json:"account_id"`
	Side      domain.Side     `json:"side" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type SubmitOrderResponse struct {
	Order     Order           `json:"order"`
	Trades    []Trade         `json:"trades"`
	Remaining decimal.Decimal `json:"remaining"`
	Warning   string          `json:"warning,omitempty"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Warning   string `json:"warning,omitempty"`
}

type Order struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      domain.Side     `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Trade struct {
	ID        string          `json:"id"`
	BuyOrder  string          `json:"buy_order"`
	SellOrder string          `json:"sell_order"`
	Aggressor domain.Side     `json:"aggressor"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

type OrderbookResponse struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

type TradesResponse struct {
	Trades []Trade `json:"trades"`
}

type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// MarketMessage is pushed over the market websocket.
type MarketMessage struct {
	Type      string            `json:"type"` // snapshot | update
	Orderbook OrderbookResponse `json:"orderbook"`
	Market    domain.MarketData `json:"market"`
	Trades    []Trade           `json:"trades,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func FromOrder(o domain.Order) Order {
	return Order{
		ID:        o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func FromOrders(orders []domain.Order) []Order {
	res := make([]Order, len(orders))
	for i, o := range orders {
		res[i] = FromOrder(o)
	}
	return res
}

func FromTrades(trades []domain.Trade) []Trade {
	res := make([]Trade, len(trades))
	for i, t := range trades {
		res[i] = Trade{
			ID:        t.ID,
			BuyOrder:  t.BuyOrder,
			SellOrder: t.SellOrder,
			Aggressor: t.Aggressor,
			Price:     t.Price,
			Quantity:  t.Quantity,
			Timestamp: t.Timestamp,
		}
	}
	return res
}

func FromDepth(d domain.Depth) OrderbookResponse {
	return OrderbookResponse{
		Symbol:    d.Symbol,
		Bids:      levels(d.Bids),
		Asks:      levels(d.Asks),
		Seq:       d.Seq,
		Timestamp: d.Timestamp,
	}
}

func levels(in []domain.DepthLevel) []Level {
	res := make([]Level, len(in))
	for i, l := range in {
		res[i] = Level{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders}
	}
	return res
}

func FromBalance(b domain.Balance) Balance {
	return Balance{
		AccountID:      b.AccountID,
		Token:          b.Token,
		Fiat:           b.Fiat,
		TokenReserved:  b.TokenReserved,
		FiatReserved:   b.FiatReserved,
		TokenAvailable: b.AvailableToken(),
		FiatAvailable:  b.AvailableFiat(),
	}
}
