// Package ledger owns account balances. It knows nothing about matching:
// callers reserve funds when an order is accepted, settle one fill at a time
// and release whatever an order no longer needs.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

type account struct {
	token       decimal.Decimal
	fiat        decimal.Decimal
	tokenLocked decimal.Decimal
	fiatLocked  decimal.Decimal
}

// Fill describes one execution between a buyer and a seller. BuyerLimit is
// the buy order's limit price, which is what its reservation was taken at.
type Fill struct {
	TradeID    string
	Buyer      string
	Seller     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	BuyerLimit decimal.Decimal
}

type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

// Open creates an account with the given starting balances.
func (l *Ledger) Open(id string, token, fiat decimal.Decimal) error {
	if id == "" {
		return fmt.Errorf("%w: empty account id", domain.ErrInvalidAmount)
	}
	if token.IsNegative() || fiat.IsNegative() {
		return fmt.Errorf("%w: negative opening balance", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountExists, id)
	}
	l.accounts[id] = &account{token: token, fiat: fiat}
	return nil
}

func (l *Ledger) Exists(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[id]
	return ok
}

// Reserve locks the funds an order of the given side needs: price*qty fiat
// for a buy, qty tokens for a sell. Nothing is locked on failure.
func (l *Ledger) Reserve(id string, side domain.Side, price, qty decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, id)
	}
	switch side {
	case domain.Buy:
		need := price.Mul(qty)
		if a.fiat.Sub(a.fiatLocked).LessThan(need) {
			return fmt.Errorf("%w: need %s fiat, available %s", domain.ErrInsufficientBalance, need, a.fiat.Sub(a.fiatLocked))
		}
		a.fiatLocked = a.fiatLocked.Add(need)
	case domain.Sell:
		if a.token.Sub(a.tokenLocked).LessThan(qty) {
			return fmt.Errorf("%w: need %s token, available %s", domain.ErrInsufficientBalance, qty, a.token.Sub(a.tokenLocked))
		}
		a.tokenLocked = a.tokenLocked.Add(qty)
	default:
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, side)
	}
	return nil
}

// Release gives back a reservation taken by Reserve for the unfilled qty.
func (l *Ledger) Release(id string, side domain.Side, price, qty decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("%w: release for unknown account %s", domain.ErrInvariantViolation, id)
	}
	if side == domain.Buy {
		amt := price.Mul(qty)
		if a.fiatLocked.LessThan(amt) {
			return fmt.Errorf("%w: release %s fiat from %s locked", domain.ErrInvariantViolation, amt, a.fiatLocked)
		}
		a.fiatLocked = a.fiatLocked.Sub(amt)
		return nil
	}
	if a.tokenLocked.LessThan(qty) {
		return fmt.Errorf("%w: release %s token from %s locked", domain.ErrInvariantViolation, qty, a.tokenLocked)
	}
	a.tokenLocked = a.tokenLocked.Sub(qty)
	return nil
}

// Settle applies one fill. Every precondition is checked before any balance
// moves, so a failed settle leaves the ledger untouched. A failure here means
// the reservation bookkeeping is broken.
func (l *Ledger) Settle(f Fill) ([]domain.BalanceDelta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f.Buyer == f.Seller {
		return nil, fmt.Errorf("%w: self settlement for %s", domain.ErrInvariantViolation, f.Buyer)
	}
	buyer, ok := l.accounts[f.Buyer]
	if !ok {
		return nil, fmt.Errorf("%w: unknown buyer %s", domain.ErrInvariantViolation, f.Buyer)
	}
	seller, ok := l.accounts[f.Seller]
	if !ok {
		return nil, fmt.Errorf("%w: unknown seller %s", domain.ErrInvariantViolation, f.Seller)
	}
	if f.Price.GreaterThan(f.BuyerLimit) {
		return nil, fmt.Errorf("%w: price %s above buyer limit %s", domain.ErrInvariantViolation, f.Price, f.BuyerLimit)
	}
	cost := f.Price.Mul(f.Quantity)
	held := f.BuyerLimit.Mul(f.Quantity)
	switch {
	case buyer.fiatLocked.LessThan(held):
		return nil, fmt.Errorf("%w: buyer %s has %s fiat locked, fill needs %s", domain.ErrInvariantViolation, f.Buyer, buyer.fiatLocked, held)
	case buyer.fiat.LessThan(cost):
		return nil, fmt.Errorf("%w: buyer %s has %s fiat, fill costs %s", domain.ErrInvariantViolation, f.Buyer, buyer.fiat, cost)
	case seller.tokenLocked.LessThan(f.Quantity):
		return nil, fmt.Errorf("%w: seller %s has %s token locked, fill needs %s", domain.ErrInvariantViolation, f.Seller, seller.tokenLocked, f.Quantity)
	case seller.token.LessThan(f.Quantity):
		return nil, fmt.Errorf("%w: seller %s has %s token, fill needs %s", domain.ErrInvariantViolation, f.Seller, seller.token, f.Quantity)
	}

	// The buyer reserved at its limit; paying a better price frees the rest.
	buyer.fiatLocked = buyer.fiatLocked.Sub(held)
	buyer.fiat = buyer.fiat.Sub(cost)
	buyer.token = buyer.token.Add(f.Quantity)

	seller.tokenLocked = seller.tokenLocked.Sub(f.Quantity)
	seller.token = seller.token.Sub(f.Quantity)
	seller.fiat = seller.fiat.Add(cost)

	return []domain.BalanceDelta{
		{AccountID: f.Buyer, TradeID: f.TradeID, Token: f.Quantity, Fiat: cost.Neg()},
		{AccountID: f.Seller, TradeID: f.TradeID, Token: f.Quantity.Neg(), Fiat: cost},
	}, nil
}

func (l *Ledger) Balance(id string) (domain.Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	if !ok {
		return domain.Balance{}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, id)
	}
	return a.snapshot(id), nil
}

// Balances returns every account sorted by id.
func (l *Ledger) Balances() []domain.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Balance, 0, len(l.accounts))
	for id, a := range l.accounts {
		out = append(out, a.snapshot(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Totals sums token and fiat holdings over all accounts.
func (l *Ledger) Totals() (token, fiat decimal.Decimal) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.accounts {
		token = token.Add(a.token)
		fiat = fiat.Add(a.fiat)
	}
	return token, fiat
}

func (a *account) snapshot(id string) domain.Balance {
	return domain.Balance{
		AccountID:     id,
		Token:         a.token,
		Fiat:          a.fiat,
		TokenReserved: a.tokenLocked,
		FiatReserved:  a.fiatLocked,
	}
}
