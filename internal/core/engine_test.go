package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/olyamironova/token-exchange/internal/adapter/in_memory"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "TKN/USD"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	e      *Engine
	ledger *ledger.Ledger
	j      *in_memory.Journal
}

type funds struct{ token, fiat string }

func newFixture(t *testing.T, accounts map[string]funds) *fixture {
	t.Helper()
	f := &fixture{ledger: ledger.New(), j: in_memory.NewJournal()}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.e = NewEngine(DefaultConfig(symbol),
		WithJournal(f.j), WithLedger(f.ledger), WithClock(clock.Now))
	for id, fu := range accounts {
		_, err := f.e.OpenAccount(context.Background(), id, d(fu.token), d(fu.fiat))
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) submit(t *testing.T, account string, side domain.Side, price, qty string) *domain.SubmissionResult {
	t.Helper()
	res, err := f.e.SubmitOrder(context.Background(), domain.OrderRequest{
		AccountID: account, Side: side, Price: d(price), Quantity: d(qty),
	})
	require.NoError(t, err)
	require.NoError(t, res.DurabilityErr)
	return res
}

func (f *fixture) balance(t *testing.T, account string) domain.Balance {
	t.Helper()
	b, err := f.e.Balance(account)
	require.NoError(t, err)
	return b
}

func TestEngine_FullMatchAtSamePrice(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"100", "0"}})

	f.submit(t, "B", domain.Sell, "10", "50")
	res := f.submit(t, "A", domain.Buy, "10", "50")

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "10", tr.Price.String())
	assert.Equal(t, "50", tr.Quantity.String())
	assert.Equal(t, "A", tr.BuyAccount)
	assert.Equal(t, "B", tr.SellAccount)
	assert.Equal(t, domain.Buy, tr.Aggressor)
	assert.Equal(t, domain.Filled, res.Order.Status)
	assert.Nil(t, res.Remainder)

	a, b := f.balance(t, "A"), f.balance(t, "B")
	assert.Equal(t, "500", a.Fiat.String())
	assert.Equal(t, "50", a.Token.String())
	assert.Equal(t, "500", b.Fiat.String())
	assert.Equal(t, "50", b.Token.String())
	assert.True(t, a.FiatReserved.IsZero())
	assert.True(t, b.TokenReserved.IsZero())

	depth := f.e.Depth(0)
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestEngine_SweepsLevelsBestPriceFirst(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"100", "0"}})

	f.submit(t, "B", domain.Sell, "10.05", "30")
	f.submit(t, "B", domain.Sell, "10.00", "20")
	res := f.submit(t, "A", domain.Buy, "10.10", "50")

	require.Len(t, res.Trades, 2)
	assert.Equal(t, "10", res.Trades[0].Price.String())
	assert.Equal(t, "20", res.Trades[0].Quantity.String())
	assert.Equal(t, "10.05", res.Trades[1].Price.String())
	assert.Equal(t, "30", res.Trades[1].Quantity.String())
	assert.Equal(t, domain.Filled, res.Order.Status)

	// Each fill pays the resting price; the unused part of the 10.10
	// reservation goes back to the buyer.
	a := f.balance(t, "A")
	assert.Equal(t, "498.5", a.Fiat.String())
	assert.Equal(t, "50", a.Token.String())
	assert.True(t, a.FiatReserved.IsZero())
	assert.Equal(t, "501.5", f.balance(t, "B").Fiat.String())
}

func TestEngine_TimePriorityWithinLevel(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}, "C": {"10", "0"}})

	first := f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "C", domain.Sell, "10", "5")
	res := f.submit(t, "A", domain.Buy, "10", "5")

	require.Len(t, res.Trades, 1)
	assert.Equal(t, first.Order.ID, res.Trades[0].SellOrder)
	asks := f.e.Depth(0).Asks
	require.Len(t, asks, 1)
	assert.Equal(t, 1, asks[0].Orders)
	assert.Equal(t, "5", asks[0].Quantity.String())
}

func TestEngine_PartialFillRestsRemainder(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})

	f.submit(t, "B", domain.Sell, "10", "10")
	res := f.submit(t, "A", domain.Buy, "10", "25")

	require.Len(t, res.Trades, 1)
	require.NotNil(t, res.Remainder)
	assert.Equal(t, domain.PartiallyFilled, res.Order.Status)
	assert.Equal(t, "15", res.Remainder.Remaining().String())

	a := f.balance(t, "A")
	assert.Equal(t, "900", a.Fiat.String())
	assert.Equal(t, "150", a.FiatReserved.String())

	depth := f.e.Depth(0)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, "15", depth.Bids[0].Quantity.String())
	assert.Empty(t, depth.Asks)

	live := f.e.AccountOrders("A")
	require.Len(t, live, 1)
	assert.Equal(t, res.Order.ID, live[0].ID)
}

func TestEngine_SelfTradeIsSkipped(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"100", "1000"}, "C": {"100", "0"}})

	own := f.submit(t, "A", domain.Sell, "10", "5")
	f.submit(t, "C", domain.Sell, "10", "5")
	res := f.submit(t, "A", domain.Buy, "10", "5")

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "C", res.Trades[0].SellAccount)

	o, err := f.e.Order(own.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Open, o.Status)
	assert.True(t, o.Filled.IsZero())

	// Only own liquidity left: nothing trades and both orders rest.
	res = f.submit(t, "A", domain.Buy, "10", "5")
	assert.Empty(t, res.Trades)
	assert.NotNil(t, res.Remainder)
}

func TestEngine_RejectsInvalidOrders(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"100", "1000"}})
	before := len(f.j.Events())

	cases := []struct {
		name string
		req  domain.OrderRequest
	}{
		{"zero price", domain.OrderRequest{AccountID: "A", Side: domain.Buy, Price: d("0"), Quantity: d("1")}},
		{"negative price", domain.OrderRequest{AccountID: "A", Side: domain.Buy, Price: d("-1"), Quantity: d("1")}},
		{"zero quantity", domain.OrderRequest{AccountID: "A", Side: domain.Sell, Price: d("1"), Quantity: d("0")}},
		{"bad side", domain.OrderRequest{AccountID: "A", Side: "HOLD", Price: d("1"), Quantity: d("1")}},
		{"price precision", domain.OrderRequest{AccountID: "A", Side: domain.Buy, Price: d("1.000000001"), Quantity: d("1")}},
		{"quantity precision", domain.OrderRequest{AccountID: "A", Side: domain.Sell, Price: d("1"), Quantity: d("0.000000001")}},
		{"unknown account", domain.OrderRequest{AccountID: "nobody", Side: domain.Buy, Price: d("1"), Quantity: d("1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.e.SubmitOrder(context.Background(), tc.req)
			require.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}

	b := f.balance(t, "A")
	assert.True(t, b.FiatReserved.IsZero())
	assert.True(t, b.TokenReserved.IsZero())
	assert.Len(t, f.j.Events(), before)
	assert.Equal(t, uint64(0), f.e.Depth(0).Seq)
}

func TestEngine_InsufficientBalance(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"3", "100"}})

	_, err := f.e.SubmitOrder(context.Background(), domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("10"), Quantity: d("11"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	f.submit(t, "A", domain.Buy, "10", "10")
	_, err = f.e.SubmitOrder(context.Background(), domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("1"), Quantity: d("1"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance, "fiat is fully reserved")

	f.submit(t, "A", domain.Sell, "20", "3")
	_, err = f.e.SubmitOrder(context.Background(), domain.OrderRequest{
		AccountID: "A", Side: domain.Sell, Price: d("20"), Quantity: d("1"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance, "tokens are fully reserved")
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})

	res := f.submit(t, "A", domain.Buy, "10", "20")
	assert.Equal(t, "200", f.balance(t, "A").FiatReserved.String())

	require.ErrorIs(t, f.e.CancelOrder(ctx, res.Order.ID, "B"), domain.ErrNotOwner)
	require.ErrorIs(t, f.e.CancelOrder(ctx, "missing", "A"), domain.ErrOrderNotFound)

	require.NoError(t, f.e.CancelOrder(ctx, res.Order.ID, "A"))
	assert.True(t, f.balance(t, "A").FiatReserved.IsZero())
	assert.Empty(t, f.e.Depth(0).Bids)

	require.ErrorIs(t, f.e.CancelOrder(ctx, res.Order.ID, "A"), domain.ErrAlreadyCancelled)
	o, err := f.e.Order(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, o.Status)

	sell := f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "A", domain.Buy, "10", "5")
	require.ErrorIs(t, f.e.CancelOrder(ctx, sell.Order.ID, "B"), domain.ErrAlreadyFilled)
}

func TestEngine_CancelReleasesOnlyRemainder(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})

	buy := f.submit(t, "A", domain.Buy, "10", "20")
	f.submit(t, "B", domain.Sell, "9", "5")
	require.NoError(t, f.e.CancelOrder(context.Background(), buy.Order.ID, "A"))

	a := f.balance(t, "A")
	assert.Equal(t, "950", a.Fiat.String())
	assert.Equal(t, "5", a.Token.String())
	assert.True(t, a.FiatReserved.IsZero())
}

func TestEngine_DegradedDurability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})

	f.submit(t, "B", domain.Sell, "10", "10")
	f.j.FailNext(errors.New("disk full"))
	res, err := f.e.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("10"), Quantity: d("4"),
	})
	require.NoError(t, err)
	require.ErrorIs(t, res.DurabilityErr, domain.ErrDegradedDurability)
	require.Len(t, res.Trades, 1, "the match stands")
	assert.Equal(t, "4", f.balance(t, "A").Token.String())

	rest := f.submit(t, "A", domain.Buy, "5", "1")
	f.j.FailNext(errors.New("disk full"))
	err = f.e.CancelOrder(ctx, rest.Order.ID, "A")
	var derr *domain.DurabilityError
	require.ErrorAs(t, err, &derr)
	o, _ := f.e.Order(rest.Order.ID)
	assert.Equal(t, domain.Cancelled, o.Status)
}

func TestEngine_HaltsOnSettlementFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})

	sell := f.submit(t, "B", domain.Sell, "10", "10")
	// Break the reservation behind the engine's back.
	require.NoError(t, f.ledger.Release("B", domain.Sell, d("10"), d("10")))

	_, err := f.e.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("10"), Quantity: d("10"),
	})
	require.ErrorIs(t, err, domain.ErrBookHalted)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	halted, cause := f.e.Halted()
	assert.True(t, halted)
	require.ErrorIs(t, cause, domain.ErrInvariantViolation)

	_, err = f.e.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("1"), Quantity: d("1"),
	})
	require.ErrorIs(t, err, domain.ErrBookHalted)
	require.ErrorIs(t, f.e.CancelOrder(ctx, sell.Order.ID, "B"), domain.ErrBookHalted)

	b := f.balance(t, "B")
	assert.Equal(t, "10", b.Token.String(), "failed settle moved nothing")
}

func TestEngine_RestoreRebuildsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "5000"}, "B": {"200", "0"}, "C": {"50", "500"}})

	f.submit(t, "B", domain.Sell, "10.05", "30")
	f.submit(t, "B", domain.Sell, "10", "20")
	f.submit(t, "A", domain.Buy, "10.10", "40")
	c := f.submit(t, "C", domain.Buy, "9", "10")
	f.submit(t, "C", domain.Sell, "11", "5")
	require.NoError(t, f.e.CancelOrder(ctx, c.Order.ID, "C"))
	f.submit(t, "A", domain.Buy, "10.05", "15")

	restored := NewEngine(DefaultConfig(symbol))
	stats, err := restored.Restore(ctx, f.j)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Accounts)
	assert.Equal(t, 6, stats.Orders)
	assert.Equal(t, 1, stats.Cancels)
	assert.Equal(t, stats.Journaled, stats.Trades)

	for _, id := range []string{"A", "B", "C"} {
		want := f.balance(t, id)
		got, err := restored.Balance(id)
		require.NoError(t, err)
		assert.True(t, want.Token.Equal(got.Token), id)
		assert.True(t, want.Fiat.Equal(got.Fiat), id)
		assert.True(t, want.FiatReserved.Equal(got.FiatReserved), id)
		assert.True(t, want.TokenReserved.Equal(got.TokenReserved), id)
	}
	assert.Equal(t, f.e.Depth(0), restored.Depth(0))
	assert.Equal(t, f.e.RecentTrades(0), restored.RecentTrades(0))
	assert.Equal(t, f.e.MarketData().TradeCount, restored.MarketData().TradeCount)
	assert.True(t, f.e.MarketData().LastPrice.Equal(restored.MarketData().LastPrice))

	// Sequence numbers continue after the replayed ones.
	res, err := restored.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: "C", Side: domain.Buy, Price: d("1"), Quantity: d("1"),
	})
	require.NoError(t, err)
	assert.Greater(t, res.Order.Seq, f.e.Depth(0).Seq)

	_, err = restored.Restore(ctx, f.j)
	require.Error(t, err)
}

func TestEngine_RestoreDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})
	f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "A", domain.Buy, "10", "5")

	j := in_memory.NewJournal()
	for _, ev := range f.j.Events() {
		if ev.Kind == domain.EventTrade {
			continue
		}
		require.NoError(t, j.Append(ctx, ev))
	}
	_, err := NewEngine(DefaultConfig(symbol)).Restore(ctx, j)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestEngine_CancelledCallerStillJournals(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"50", "0"}})
	f.submit(t, "B", domain.Sell, "10", "50")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.e.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: "A", Side: domain.Buy, Price: d("10"), Quantity: d("50"),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.NoError(t, res.DurabilityErr)

	restored := NewEngine(DefaultConfig(symbol))
	_, err = restored.Restore(context.Background(), f.j)
	require.NoError(t, err)
	got, err := restored.Balance("A")
	require.NoError(t, err)
	assert.Equal(t, "50", got.Token.String())
	assert.Equal(t, "500", got.Fiat.String())
}

func TestEngine_RestoreDetectsTamperedTrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})
	f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "A", domain.Buy, "10", "5")

	j := in_memory.NewJournal()
	for _, ev := range f.j.Events() {
		if ev.Kind == domain.EventTrade {
			tr := *ev.Trade
			tr.Price = d("9")
			ev.Trade = &tr
		}
		require.NoError(t, j.Append(ctx, ev))
	}
	_, err := NewEngine(DefaultConfig(symbol)).Restore(ctx, j)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "differs from journaled")
}

func TestEngine_OrderReadsDoNotWaitForMatching(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})
	sell := f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "A", domain.Buy, "10", "2")
	buy := f.submit(t, "A", domain.Buy, "9", "1")

	f.e.mu.Lock()
	defer f.e.mu.Unlock()

	type reads struct {
		sell domain.Order
		live []domain.Order
		err  error
	}
	done := make(chan reads, 1)
	go func() {
		o, err := f.e.Order(sell.Order.ID)
		done <- reads{sell: o, live: f.e.AccountOrders("A"), err: err}
	}()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, domain.PartiallyFilled, r.sell.Status)
		assert.Equal(t, "2", r.sell.Filled.String())
		require.Len(t, r.live, 1)
		assert.Equal(t, buy.Order.ID, r.live[0].ID)
	case <-time.After(time.Second):
		t.Fatal("order reads blocked on the engine lock")
	}
}

func TestEngine_RecentTradesNewestFirst(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})
	for _, p := range []string{"10", "11", "12"} {
		f.submit(t, "B", domain.Sell, p, "1")
		f.submit(t, "A", domain.Buy, p, "1")
	}
	trades := f.e.RecentTrades(2)
	require.Len(t, trades, 2)
	assert.Equal(t, "12", trades[0].Price.String())
	assert.Equal(t, "11", trades[1].Price.String())
	assert.Len(t, f.e.RecentTrades(0), 3)

	md := f.e.MarketData()
	assert.Equal(t, "12", md.LastPrice.String())
	assert.Equal(t, "10", md.Low24h.String())
	assert.Equal(t, "3", md.Volume24h.String())
}

func TestEngine_SubscribeReceivesUpdates(t *testing.T) {
	f := newFixture(t, map[string]funds{"A": {"0", "1000"}, "B": {"10", "0"}})
	updates, unsubscribe := f.e.Subscribe(8)
	defer unsubscribe()

	f.submit(t, "B", domain.Sell, "10", "5")
	f.submit(t, "A", domain.Buy, "10", "5")

	u := <-updates
	require.Len(t, u.Depth.Asks, 1)
	assert.Empty(t, u.Trades)
	u = <-updates
	assert.Empty(t, u.Depth.Asks)
	require.Len(t, u.Trades, 1)
	assert.Equal(t, "10", u.MarketData.LastPrice.String())

	unsubscribe()
	_, ok := <-updates
	assert.False(t, ok)
}

// Random order flow must never create or destroy tokens or fiat, never drive
// an available balance negative, and cancelling everything must free every
// reservation.
func TestEngine_RandomFlowConservesBalances(t *testing.T) {
	ctx := context.Background()
	accounts := map[string]funds{}
	ids := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, id := range ids {
		accounts[id] = funds{"1000", "100000"}
	}
	f := newFixture(t, accounts)
	token0, fiat0 := f.ledger.Totals()

	rng := rand.New(rand.NewPCG(7, 42))
	var live []string
	owner := map[string]string{}
	for i := 0; i < 3000; i++ {
		acct := ids[rng.IntN(len(ids))]
		if len(live) > 0 && rng.IntN(5) == 0 {
			k := rng.IntN(len(live))
			id := live[k]
			live = append(live[:k], live[k+1:]...)
			err := f.e.CancelOrder(ctx, id, owner[id])
			if err != nil {
				require.ErrorIs(t, err, domain.ErrAlreadyFilled)
			}
			continue
		}
		side := domain.Buy
		if rng.IntN(2) == 0 {
			side = domain.Sell
		}
		price := decimal.New(int64(950+rng.IntN(100)), -2)
		qty := decimal.New(int64(1+rng.IntN(500)), -1)
		res, err := f.e.SubmitOrder(ctx, domain.OrderRequest{AccountID: acct, Side: side, Price: price, Quantity: qty})
		if errors.Is(err, domain.ErrInsufficientBalance) {
			continue
		}
		require.NoError(t, err, "step %d", i)
		if res.Remainder != nil {
			live = append(live, res.Order.ID)
			owner[res.Order.ID] = acct
		}

		if i%100 == 0 {
			token, fiat := f.ledger.Totals()
			require.True(t, token.Equal(token0), "token supply changed at step %d", i)
			require.True(t, fiat.Equal(fiat0), "fiat supply changed at step %d", i)
			for _, b := range f.ledger.Balances() {
				require.False(t, b.AvailableToken().IsNegative(), "%s token at step %d", b.AccountID, i)
				require.False(t, b.AvailableFiat().IsNegative(), "%s fiat at step %d", b.AccountID, i)
			}
		}
	}

	for _, id := range live {
		err := f.e.CancelOrder(ctx, id, owner[id])
		if err != nil {
			require.ErrorIs(t, err, domain.ErrAlreadyFilled)
		}
	}
	token, fiat := f.ledger.Totals()
	assert.True(t, token.Equal(token0))
	assert.True(t, fiat.Equal(fiat0))
	for _, b := range f.ledger.Balances() {
		assert.True(t, b.TokenReserved.IsZero(), b.AccountID)
		assert.True(t, b.FiatReserved.IsZero(), b.AccountID)
	}
	assert.Equal(t, 0, len(f.e.Depth(0).Bids)+len(f.e.Depth(0).Asks))
}

func TestEngine_ConcurrentSubmitters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]funds{"buyer": {"0", "1000000"}, "seller": {"10000", "0"}})
	token0, fiat0 := f.ledger.Totals()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		trades int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acct, side := "buyer", domain.Buy
			if w%2 == 1 {
				acct, side = "seller", domain.Sell
			}
			for i := 0; i < 200; i++ {
				res, err := f.e.SubmitOrder(ctx, domain.OrderRequest{
					AccountID: acct, Side: side, Price: d(fmt.Sprintf("%d", 10+i%3)), Quantity: d("1"),
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				trades += len(res.Trades)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	token, fiat := f.ledger.Totals()
	assert.True(t, token.Equal(token0))
	assert.True(t, fiat.Equal(fiat0))

	journaled := 0
	var lastSeq uint64
	for _, ev := range f.j.Events() {
		switch ev.Kind {
		case domain.EventTrade:
			journaled++
		case domain.EventOrderAccepted:
			require.Greater(t, ev.Order.Seq, lastSeq, "journal follows match order")
			lastSeq = ev.Order.Seq
		}
	}
	assert.Equal(t, trades, journaled)
	assert.Equal(t, uint64(trades), f.e.MarketData().TradeCount)
}
