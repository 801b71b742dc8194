package domain

import "time"

type EventKind string

const (
	EventAccountOpened  EventKind = "account_opened"
	EventOrderAccepted  EventKind = "order_accepted"
	EventOrderCancelled EventKind = "order_cancelled"
	EventTrade          EventKind = "trade"
	EventBalanceDelta   EventKind = "balance_delta"
)

// Event is one record of the append-only journal. Exactly one payload field
// is set, depending on Kind.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Account   *Balance      `json:"account,omitempty"`
	Order     *Order        `json:"order,omitempty"`
	Trade     *Trade        `json:"trade,omitempty"`
	Delta     *BalanceDelta `json:"delta,omitempty"`
	OrderID   string        `json:"order_id,omitempty"`
	AccountID string        `json:"account_id,omitempty"`
}
