package core

import (
	"context"
	"time"

	"github.com/olyamironova/token-exchange/internal/port"
	"go.uber.org/zap"
)

// Fanout forwards engine updates to the read-side cache and the trade
// publisher. Either may be nil. Failures are logged and never reach the
// engine.
type Fanout struct {
	engine    *Engine
	cache     port.Cache
	publisher port.TradePublisher
	logger    *zap.Logger
	timeout   time.Duration
}

func NewFanout(e *Engine, cache port.Cache, publisher port.TradePublisher, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		engine:    e,
		cache:     cache,
		publisher: publisher,
		logger:    logger.Named("fanout"),
		timeout:   2 * time.Second,
	}
}

// Run consumes updates until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	updates, unsubscribe := f.engine.Subscribe(1024)
	defer unsubscribe()

	f.seed(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			f.updateCache(ctx, u)
			f.publish(ctx, u)
		}
	}
}

// seed writes the current book to the cache before the first change, unless
// the cache already holds exactly this state. A cache that is ahead of the
// engine (the engine restarted from a shorter journal, or without one) is
// overwritten.
func (f *Fanout) seed(ctx context.Context) {
	if f.cache == nil {
		return
	}
	u := Update{Depth: f.engine.Depth(0), MarketData: f.engine.MarketData()}
	rctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	symbol := f.engine.Symbol()
	cached, err := f.cache.GetDepth(rctx, symbol)
	if err != nil {
		f.logger.Warn("cache depth read failed", zap.Error(err))
	}
	cachedMD, err := f.cache.GetMarketData(rctx, symbol)
	if err != nil {
		f.logger.Warn("cache market data read failed", zap.Error(err))
	}
	switch {
	case cached == nil || cachedMD == nil:
	case cached.Seq > u.Depth.Seq || cachedMD.TradeCount > u.MarketData.TradeCount:
		f.logger.Warn("cache is ahead of the engine, overwriting",
			zap.Uint64("cached_seq", cached.Seq), zap.Uint64("engine_seq", u.Depth.Seq),
			zap.Uint64("cached_trades", cachedMD.TradeCount), zap.Uint64("engine_trades", u.MarketData.TradeCount))
	case cached.Seq == u.Depth.Seq && cachedMD.TradeCount == u.MarketData.TradeCount:
		f.logger.Debug("cache already current", zap.Uint64("seq", cached.Seq))
		return
	}
	f.updateCache(ctx, u)
}

func (f *Fanout) updateCache(ctx context.Context, u Update) {
	if f.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	symbol := f.engine.Symbol()
	if err := f.cache.SetDepth(ctx, symbol, &u.Depth); err != nil {
		f.logger.Warn("cache depth write failed", zap.Uint64("seq", u.Depth.Seq), zap.Error(err))
	}
	if err := f.cache.SetMarketData(ctx, symbol, &u.MarketData); err != nil {
		f.logger.Warn("cache market data write failed", zap.Error(err))
	}
}

func (f *Fanout) publish(ctx context.Context, u Update) {
	if f.publisher == nil || len(u.Trades) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.publisher.PublishTrades(ctx, u.Trades); err != nil {
		f.logger.Warn("trade publish failed", zap.Int("trades", len(u.Trades)), zap.Error(err))
	}
}
