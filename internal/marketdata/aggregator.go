// Package marketdata derives market statistics from the trade stream.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
)

type Config struct {
	Symbol         string
	TotalSupply    decimal.Decimal
	HistorySize    int
	Window         time.Duration
	CandleInterval time.Duration
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:         symbol,
		TotalSupply:    decimal.NewFromInt(1_000_000),
		HistorySize:    30,
		Window:         24 * time.Hour,
		CandleInterval: time.Minute,
	}
}

type sample struct {
	price decimal.Decimal
	qty   decimal.Decimal
	at    time.Time
}

// Aggregator has a single writer (OnTrade, called by the engine) and any
// number of readers. Readers get the last published snapshot and never wait
// on the writer.
type Aggregator struct {
	cfg Config

	mu      sync.Mutex
	last    decimal.Decimal
	count   uint64
	window  []sample // trades inside cfg.Window, oldest first
	maxq    []sample // monotonic deque, prices non-increasing
	minq    []sample // monotonic deque, prices non-decreasing
	volume  decimal.Decimal
	history []domain.PricePoint
	candles []domain.Candle

	published atomic.Pointer[snapshot]
}

// snapshot pairs the published market data with the rolling window it was
// computed from. Neither is written after publication.
type snapshot struct {
	md     domain.MarketData
	window []sample
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.CandleInterval <= 0 {
		cfg.CandleInterval = time.Minute
	}
	a := &Aggregator{cfg: cfg}
	a.publish(time.Time{})
	return a
}

// OnTrade folds one trade into the statistics and publishes a new snapshot.
func (a *Aggregator) OnTrade(t domain.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := sample{price: t.Price, qty: t.Quantity, at: t.Timestamp}
	a.last = t.Price
	a.count++

	a.window = append(a.window, s)
	a.volume = a.volume.Add(s.qty)
	for len(a.maxq) > 0 && a.maxq[len(a.maxq)-1].price.LessThan(s.price) {
		a.maxq = a.maxq[:len(a.maxq)-1]
	}
	a.maxq = append(a.maxq, s)
	for len(a.minq) > 0 && a.minq[len(a.minq)-1].price.GreaterThan(s.price) {
		a.minq = a.minq[:len(a.minq)-1]
	}
	a.minq = append(a.minq, s)
	a.evict(t.Timestamp.Add(-a.cfg.Window))

	a.history = appendCapped(a.history, domain.PricePoint{Price: t.Price, Timestamp: t.Timestamp}, a.cfg.HistorySize)
	a.addToCandle(s)

	a.publish(t.Timestamp)
}

// evict drops samples older than cutoff from the rolling window.
func (a *Aggregator) evict(cutoff time.Time) {
	n := 0
	for n < len(a.window) && a.window[n].at.Before(cutoff) {
		a.volume = a.volume.Sub(a.window[n].qty)
		n++
	}
	if n == 0 {
		return
	}
	a.window = append(a.window[:0:0], a.window[n:]...)
	for len(a.maxq) > 0 && a.maxq[0].at.Before(cutoff) {
		a.maxq = a.maxq[1:]
	}
	for len(a.minq) > 0 && a.minq[0].at.Before(cutoff) {
		a.minq = a.minq[1:]
	}
}

func (a *Aggregator) addToCandle(s sample) {
	start := s.at.Truncate(a.cfg.CandleInterval)
	if n := len(a.candles); n > 0 && a.candles[n-1].Start.Equal(start) {
		c := &a.candles[n-1]
		c.High = decimal.Max(c.High, s.price)
		c.Low = decimal.Min(c.Low, s.price)
		c.Close = s.price
		c.Volume = c.Volume.Add(s.qty)
		return
	}
	a.candles = appendCapped(a.candles, domain.Candle{
		Start:  start,
		Open:   s.price,
		High:   s.price,
		Low:    s.price,
		Close:  s.price,
		Volume: s.qty,
	}, a.cfg.HistorySize)
}

// appendCapped appends v and evicts the oldest entries beyond limit.
func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}

// publish stores an immutable copy. a.window only grows in place and is
// reallocated on eviction, so the published prefix is never written again.
func (a *Aggregator) publish(at time.Time) {
	md := domain.MarketData{
		Symbol:       a.cfg.Symbol,
		LastPrice:    a.last,
		Volume24h:    a.volume,
		TotalSupply:  a.cfg.TotalSupply,
		MarketCap:    a.last.Mul(a.cfg.TotalSupply),
		TradeCount:   a.count,
		PriceHistory: append([]domain.PricePoint(nil), a.history...),
		Candles:      append([]domain.Candle(nil), a.candles...),
		UpdatedAt:    at,
	}
	if len(a.maxq) > 0 {
		md.High24h = a.maxq[0].price
		md.Low24h = a.minq[0].price
	}
	a.published.Store(&snapshot{md: md, window: a.window[:len(a.window):len(a.window)]})
}

// Snapshot returns a copy of the latest published market data, with the
// rolling window ending at the last trade.
func (a *Aggregator) Snapshot() domain.MarketData {
	return a.published.Load().copyMD()
}

func (p *snapshot) copyMD() domain.MarketData {
	md := p.md
	md.PriceHistory = append([]domain.PricePoint(nil), md.PriceHistory...)
	md.Candles = append([]domain.Candle(nil), md.Candles...)
	return md
}

// SnapshotAt is Snapshot with the rolling window ending at now, so trades
// older than the window drop out of high, low and volume even when no newer
// trade has arrived.
func (a *Aggregator) SnapshotAt(now time.Time) domain.MarketData {
	p := a.published.Load()
	md := p.copyMD()
	cutoff := now.Add(-a.cfg.Window)
	if len(p.window) == 0 || !p.window[0].at.Before(cutoff) {
		return md
	}
	md.Volume24h, md.High24h, md.Low24h = decimal.Zero, decimal.Zero, decimal.Zero
	first := true
	for _, s := range p.window {
		if s.at.Before(cutoff) {
			continue
		}
		md.Volume24h = md.Volume24h.Add(s.qty)
		if first {
			md.High24h, md.Low24h = s.price, s.price
			first = false
			continue
		}
		md.High24h = decimal.Max(md.High24h, s.price)
		md.Low24h = decimal.Min(md.Low24h, s.price)
	}
	return md
}
