package domain

import "github.com/shopspring/decimal"

// Balance is a point-in-time copy of an account. Token and Fiat are the
// total holdings; the reserved amounts are the part locked by live orders.
type Balance struct {
	AccountID     string          `json:"account_id"`
	Token         decimal.Decimal `json:"token"`
	Fiat          decimal.Decimal `json:"fiat"`
	TokenReserved decimal.Decimal `json:"token_reserved"`
	FiatReserved  decimal.Decimal `json:"fiat_reserved"`
}

func (b Balance) AvailableToken() decimal.Decimal { return b.Token.Sub(b.TokenReserved) }
func (b Balance) AvailableFiat() decimal.Decimal  { return b.Fiat.Sub(b.FiatReserved) }

// BalanceDelta is the change one fill applies to one account.
type BalanceDelta struct {
	AccountID string          `json:"account_id"`
	TradeID   string          `json:"trade_id"`
	Token     decimal.Decimal `json:"token"`
	Fiat      decimal.Decimal `json:"fiat"`
}
