package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/ledger"
	"github.com/olyamironova/token-exchange/internal/marketdata"
	"github.com/olyamironova/token-exchange/internal/metrics"
	"github.com/olyamironova/token-exchange/internal/orderbook"
	"github.com/olyamironova/token-exchange/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Symbol         string
	PricePlaces    int32
	QuantityPlaces int32
	RecentTrades   int
	Market         marketdata.Config
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:         symbol,
		PricePlaces:    8,
		QuantityPlaces: 8,
		RecentTrades:   1000,
		Market:         marketdata.DefaultConfig(symbol),
	}
}

type Option func(*Engine)

func WithJournal(j port.Journal) Option     { return func(e *Engine) { e.journal = j } }
func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLedger(l *ledger.Ledger) Option    { return func(e *Engine) { e.ledger = l } }

// tradeNamespace seeds deterministic trade ids, so a replayed journal
// regenerates the ids it recorded.
var tradeNamespace = uuid.MustParse("6f1c1d8e-8f44-4b7a-9a57-3c1f0f5b2a10")

// Engine matches orders for one instrument. Every state change (submit,
// cancel, account opening) runs inside mu; reads are served from snapshots
// published at the end of each change.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	journal port.Journal
	now     func() time.Time

	ledger *ledger.Ledger
	book   *orderbook.OrderBook
	market *marketdata.Aggregator
	trades *tradeRing

	mu     sync.Mutex
	seq    uint64
	orders map[string]*domain.Order
	views  *orderViews

	// persist is taken before mu is released, so journal appends and update
	// notifications happen in the same order as the state changes.
	persist sync.Mutex

	halted  atomic.Bool
	haltErr atomic.Pointer[error]
	depth   atomic.Pointer[domain.Depth]

	subs subscribers
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.Market.Symbol == "" {
		cfg.Market.Symbol = cfg.Symbol
	}
	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		book:   orderbook.NewOrderBook(cfg.Symbol),
		market: marketdata.NewAggregator(cfg.Market),
		trades: newTradeRing(cfg.RecentTrades),
		orders: make(map[string]*domain.Order),
		views:  newOrderViews(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = ledger.New()
	}
	e.logger = e.logger.Named("engine").With(zap.String("symbol", cfg.Symbol))
	e.publishDepth(time.Time{})
	return e
}

func (e *Engine) Symbol() string { return e.cfg.Symbol }

// OpenAccount creates a funded account.
func (e *Engine) OpenAccount(ctx context.Context, accountID string, token, fiat decimal.Decimal) (domain.Balance, error) {
	e.mu.Lock()
	if err := e.ledger.Open(accountID, token, fiat); err != nil {
		e.mu.Unlock()
		return domain.Balance{}, err
	}
	bal, _ := e.ledger.Balance(accountID)
	ev := domain.Event{Kind: domain.EventAccountOpened, Timestamp: e.now(), Account: &bal}

	e.persist.Lock()
	e.mu.Unlock()
	defer e.persist.Unlock()
	e.logger.Info("account opened", zap.String("account_id", accountID),
		zap.Stringer("token", token), zap.Stringer("fiat", fiat))
	return bal, e.append(ctx, []domain.Event{ev})
}

// SubmitOrder validates, reserves, matches and rests the remainder of one
// order. InvalidOrder and InsufficientBalance leave no trace. A journal
// failure after matching is reported through SubmissionResult.DurabilityErr.
func (e *Engine) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.SubmissionResult, error) {
	e.mu.Lock()
	started := time.Now()
	res, events, err := e.submitLocked(req)
	if err != nil {
		e.mu.Unlock()
		e.metrics.ObserveOrder(string(req.Side), resultLabel(err))
		e.logger.Debug("order rejected", zap.String("account_id", req.AccountID),
			zap.String("side", string(req.Side)), zap.Stringer("price", req.Price),
			zap.Stringer("quantity", req.Quantity), zap.Error(err))
		return nil, err
	}
	depth := e.publishDepth(res.Order.UpdatedAt)
	e.metrics.ObserveMatch(time.Since(started).Seconds(), e.book.Len())

	e.persist.Lock()
	e.mu.Unlock()
	res.DurabilityErr = e.append(ctx, events)
	e.subs.notify(Update{Depth: depth, MarketData: e.market.Snapshot(), Trades: res.Trades})
	e.persist.Unlock()

	e.metrics.ObserveOrder(string(req.Side), "accepted")
	for _, t := range res.Trades {
		e.metrics.ObserveTrade(t.Price.InexactFloat64(), t.Quantity.InexactFloat64())
	}
	e.logger.Debug("order accepted", zap.String("order_id", res.Order.ID),
		zap.String("status", string(res.Order.Status)), zap.Int("trades", len(res.Trades)))
	return res, nil
}

func (e *Engine) submitLocked(req domain.OrderRequest) (*domain.SubmissionResult, []domain.Event, error) {
	if e.halted.Load() {
		return nil, nil, domain.ErrBookHalted
	}
	if err := e.validate(req); err != nil {
		return nil, nil, err
	}
	if err := e.ledger.Reserve(req.AccountID, req.Side, req.Price, req.Quantity); err != nil {
		return nil, nil, err
	}

	o := e.newOrder(req)
	now := o.CreatedAt
	accepted := *o
	events := []domain.Event{{Kind: domain.EventOrderAccepted, Timestamp: now, Order: &accepted}}

	var trades []domain.Trade
	for resting := range e.book.PeekCrossed(o) {
		if !o.Remaining().IsPositive() {
			break
		}
		if resting.AccountID == o.AccountID {
			e.logger.Debug("self-trade prevented", zap.String("order_id", o.ID),
				zap.String("resting_id", resting.ID), zap.String("account_id", o.AccountID))
			continue
		}
		trade, deltas, err := e.fill(o, resting, len(trades), now)
		if err != nil {
			return nil, nil, e.halt(err)
		}
		trades = append(trades, trade)
		events = append(events, domain.Event{Kind: domain.EventTrade, Timestamp: now, Trade: &trade})
		for i := range deltas {
			events = append(events, domain.Event{Kind: domain.EventBalanceDelta, Timestamp: now, Delta: &deltas[i]})
		}
	}

	res := &domain.SubmissionResult{Trades: trades}
	if o.Remaining().IsPositive() {
		if err := e.book.Insert(o); err != nil {
			return nil, nil, e.halt(err)
		}
		rem := *o
		res.Remainder = &rem
	}
	e.views.put(o)
	res.Order = *o
	return res, events, nil
}

func (e *Engine) validate(req domain.OrderRequest) error {
	switch {
	case !req.Side.Valid():
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, req.Side)
	case !req.Price.IsPositive():
		return fmt.Errorf("%w: price must be > 0", domain.ErrInvalidOrder)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be > 0", domain.ErrInvalidOrder)
	case !req.Price.Equal(req.Price.Truncate(e.cfg.PricePlaces)):
		return fmt.Errorf("%w: price has more than %d decimal places", domain.ErrInvalidOrder, e.cfg.PricePlaces)
	case !req.Quantity.Equal(req.Quantity.Truncate(e.cfg.QuantityPlaces)):
		return fmt.Errorf("%w: quantity has more than %d decimal places", domain.ErrInvalidOrder, e.cfg.QuantityPlaces)
	case req.AccountID == "" || !e.ledger.Exists(req.AccountID):
		return fmt.Errorf("%w: %w: %q", domain.ErrInvalidOrder, domain.ErrUnknownAccount, req.AccountID)
	}
	if req.ID != "" {
		if _, dup := e.orders[req.ID]; dup {
			return fmt.Errorf("%w: duplicate order id %s", domain.ErrInvalidOrder, req.ID)
		}
	}
	return nil
}

func (e *Engine) newOrder(req domain.OrderRequest) *domain.Order {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	seq := req.Seq
	if seq == 0 {
		seq = e.seq + 1
	}
	e.seq = max(e.seq, seq)
	at := req.CreatedAt
	if at.IsZero() {
		at = e.now()
	}
	o := &domain.Order{
		ID:        id,
		AccountID: req.AccountID,
		Symbol:    e.cfg.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    domain.Open,
		Seq:       seq,
		CreatedAt: at,
		UpdatedAt: at,
	}
	e.orders[o.ID] = o
	return o
}

// fill executes one match between the incoming order and a resting one at
// the resting order's price. n is the index of this fill for the incoming
// order and makes the trade id deterministic.
func (e *Engine) fill(in, resting *domain.Order, n int, now time.Time) (domain.Trade, []domain.BalanceDelta, error) {
	qty := decimal.Min(in.Remaining(), resting.Remaining())
	buy, sell := in, resting
	if in.Side == domain.Sell {
		buy, sell = resting, in
	}
	trade := domain.Trade{
		ID:          uuid.NewSHA1(tradeNamespace, fmt.Appendf(nil, "%s/%d", in.ID, n)).String(),
		Symbol:      e.cfg.Symbol,
		BuyOrder:    buy.ID,
		SellOrder:   sell.ID,
		BuyAccount:  buy.AccountID,
		SellAccount: sell.AccountID,
		Aggressor:   in.Side,
		Price:       resting.Price,
		Quantity:    qty,
		Timestamp:   now,
	}
	deltas, err := e.ledger.Settle(ledger.Fill{
		TradeID:    trade.ID,
		Buyer:      buy.AccountID,
		Seller:     sell.AccountID,
		Price:      trade.Price,
		Quantity:   qty,
		BuyerLimit: buy.Price,
	})
	if err != nil {
		return domain.Trade{}, nil, fmt.Errorf("settle %s against %s: %w", in.ID, resting.ID, err)
	}

	in.Fill(qty, now)
	resting.Fill(qty, now)
	e.book.Reduce(resting.ID, qty)
	if resting.Status == domain.Filled {
		e.book.Remove(resting.ID)
	}
	e.views.put(resting)
	e.trades.add(trade)
	e.market.OnTrade(trade)
	return trade, deltas, nil
}

// CancelOrder removes a live order and releases its remaining reservation.
// A *domain.DurabilityError means the cancel took effect but was not
// journaled.
func (e *Engine) CancelOrder(ctx context.Context, orderID, accountID string) error {
	e.mu.Lock()
	ev, err := e.cancelLocked(orderID, accountID, e.now())
	if err != nil {
		e.mu.Unlock()
		e.metrics.ObserveCancel(resultLabel(err))
		return err
	}
	depth := e.publishDepth(ev.Timestamp)
	e.metrics.ObserveMatch(0, e.book.Len())

	e.persist.Lock()
	e.mu.Unlock()
	derr := e.append(ctx, []domain.Event{ev})
	e.subs.notify(Update{Depth: depth, MarketData: e.market.Snapshot()})
	e.persist.Unlock()

	e.metrics.ObserveCancel("accepted")
	e.logger.Debug("order cancelled", zap.String("order_id", orderID))
	return derr
}

func (e *Engine) cancelLocked(orderID, accountID string, at time.Time) (domain.Event, error) {
	if e.halted.Load() {
		return domain.Event{}, domain.ErrBookHalted
	}
	o, ok := e.orders[orderID]
	switch {
	case !ok:
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	case o.AccountID != accountID:
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrNotOwner, orderID)
	case o.Status == domain.Filled:
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrAlreadyFilled, orderID)
	case o.Status == domain.Cancelled:
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrAlreadyCancelled, orderID)
	}
	if _, ok := e.book.Remove(orderID); !ok {
		return domain.Event{}, e.halt(fmt.Errorf("%w: live order %s missing from book", domain.ErrInvariantViolation, orderID))
	}
	if err := e.ledger.Release(o.AccountID, o.Side, o.Price, o.Remaining()); err != nil {
		return domain.Event{}, e.halt(err)
	}
	o.Cancel(at)
	e.views.put(o)
	return domain.Event{Kind: domain.EventOrderCancelled, Timestamp: at, OrderID: orderID, AccountID: accountID}, nil
}

// halt stops the book for good. It is only reached when the ledger and the
// book disagree, and continuing would spread the damage.
func (e *Engine) halt(cause error) error {
	e.haltErr.Store(&cause)
	e.halted.Store(true)
	e.metrics.SetHalted()
	e.logger.Error("order book halted", zap.Error(cause))
	return fmt.Errorf("%w: %w", domain.ErrBookHalted, cause)
}

// Halted reports whether the book stopped and why.
func (e *Engine) Halted() (bool, error) {
	if !e.halted.Load() {
		return false, nil
	}
	if cause := e.haltErr.Load(); cause != nil {
		return true, *cause
	}
	return true, nil
}

// appendTimeout bounds a journal write once the change is applied.
const appendTimeout = 5 * time.Second

// append writes events for a change already applied in memory. The caller's
// cancellation is dropped; only appendTimeout bounds the write.
func (e *Engine) append(ctx context.Context, events []domain.Event) error {
	if e.journal == nil || len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := e.journal.Append(ctx, events...); err != nil {
		e.logger.Warn("journal append failed, state is ahead of the journal",
			zap.Int("events", len(events)), zap.Error(err))
		return &domain.DurabilityError{Err: err}
	}
	return nil
}

func (e *Engine) publishDepth(at time.Time) domain.Depth {
	d := e.book.Depth(0, e.seq, at)
	e.depth.Store(&d)
	return d
}

// Depth returns the aggregated book as of the last completed change; limit
// <= 0 returns every level.
func (e *Engine) Depth(limit int) domain.Depth {
	d := e.depth.Load().Limit(limit)
	d.Bids = append([]domain.DepthLevel(nil), d.Bids...)
	d.Asks = append([]domain.DepthLevel(nil), d.Asks...)
	return d
}

// RecentTrades returns up to limit trades, most recent first.
func (e *Engine) RecentTrades(limit int) []domain.Trade {
	return e.trades.recent(limit)
}

// MarketData returns market statistics with the 24h window ending now.
func (e *Engine) MarketData() domain.MarketData {
	return e.market.SnapshotAt(e.now())
}

func (e *Engine) Balance(accountID string) (domain.Balance, error) {
	return e.ledger.Balance(accountID)
}

// Order returns a copy of a live or completed order. It does not wait for an
// in-flight change.
func (e *Engine) Order(orderID string) (domain.Order, error) {
	o, ok := e.views.get(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// AccountOrders returns copies of the account's live orders, oldest first.
func (e *Engine) AccountOrders(accountID string) []domain.Order {
	return e.views.liveFor(accountID)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrBookHalted):
		return "halted"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, domain.ErrAlreadyFilled), errors.Is(err, domain.ErrAlreadyCancelled):
		return "closed"
	default:
		return "error"
	}
}
