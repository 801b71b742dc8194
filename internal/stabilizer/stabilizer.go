// Package stabilizer nudges the traded price back toward a target by
// submitting corrective orders from a market-maker account.
package stabilizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exchange is the part of the engine the stabilizer needs. Corrections go
// through the same entry point as every other order.
type Exchange interface {
	MarketData() domain.MarketData
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.SubmissionResult, error)
	CancelOrder(ctx context.Context, orderID, accountID string) error
}

type Config struct {
	AccountID      string
	Interval       time.Duration
	TargetPrice    decimal.Decimal
	Threshold      decimal.Decimal // fraction, 0.03 = 3%
	BaseSize       decimal.Decimal // size at a deviation equal to Threshold
	MaxSize        decimal.Decimal
	PriceOffset    decimal.Decimal // fraction of last price to step inside
	PricePlaces    int32
	QuantityPlaces int32
	// CancelStale cancels the previous correction's resting remainder before
	// placing a new one.
	CancelStale bool
}

func (c Config) Validate() error {
	switch {
	case c.AccountID == "":
		return errors.New("stabilizer: account id is required")
	case c.Interval <= 0:
		return errors.New("stabilizer: interval must be > 0")
	case !c.TargetPrice.IsPositive():
		return errors.New("stabilizer: target price must be > 0")
	case !c.Threshold.IsPositive():
		return errors.New("stabilizer: threshold must be > 0")
	case !c.BaseSize.IsPositive() || !c.MaxSize.IsPositive():
		return errors.New("stabilizer: base and max size must be > 0")
	case c.PriceOffset.IsNegative() || c.PriceOffset.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return errors.New("stabilizer: price offset must be in [0, 1)")
	}
	return nil
}

// Proposal is a corrective order the stabilizer wants to place.
type Proposal struct {
	Side      domain.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Deviation decimal.Decimal
}

type Stabilizer struct {
	cfg      Config
	exchange Exchange
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// last correction still possibly resting; only touched by Tick
	lastOrder string
}

func New(cfg Config, ex Exchange, logger *zap.Logger, m *metrics.Metrics) (*Stabilizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stabilizer{cfg: cfg, exchange: ex, logger: logger.Named("stabilizer"), metrics: m}, nil
}

// Evaluate decides whether md calls for a correction. It is pure: no order
// is placed and no state changes.
func (s *Stabilizer) Evaluate(md domain.MarketData) (Proposal, bool) {
	if !md.HasPrice() {
		return Proposal{}, false
	}
	dev := md.LastPrice.Sub(s.cfg.TargetPrice).Div(s.cfg.TargetPrice)
	if dev.Abs().LessThanOrEqual(s.cfg.Threshold) {
		return Proposal{Deviation: dev}, false
	}

	qty := s.cfg.BaseSize.Mul(dev.Abs()).Div(s.cfg.Threshold)
	qty = decimal.Min(qty, s.cfg.MaxSize).Truncate(s.cfg.QuantityPlaces)
	if !qty.IsPositive() {
		return Proposal{Deviation: dev}, false
	}

	one := decimal.NewFromInt(1)
	p := Proposal{Quantity: qty, Deviation: dev}
	if dev.IsPositive() {
		p.Side = domain.Sell
		p.Price = md.LastPrice.Mul(one.Sub(s.cfg.PriceOffset)).Truncate(s.cfg.PricePlaces)
	} else {
		p.Side = domain.Buy
		p.Price = md.LastPrice.Mul(one.Add(s.cfg.PriceOffset)).Truncate(s.cfg.PricePlaces)
	}
	if !p.Price.IsPositive() {
		return Proposal{Deviation: dev}, false
	}
	return p, true
}

// Tick runs one evaluation and places the correction if one is needed.
// Rejections such as an underfunded market maker are logged and counted,
// never returned.
func (s *Stabilizer) Tick(ctx context.Context) {
	md := s.exchange.MarketData()
	p, ok := s.Evaluate(md)
	s.metrics.SetDeviation(p.Deviation.InexactFloat64())
	if !ok {
		return
	}

	if s.cfg.CancelStale && s.lastOrder != "" {
		err := s.exchange.CancelOrder(ctx, s.lastOrder, s.cfg.AccountID)
		if err != nil && !errors.Is(err, domain.ErrAlreadyFilled) && !errors.Is(err, domain.ErrAlreadyCancelled) {
			s.logger.Warn("stale correction not cancelled", zap.String("order_id", s.lastOrder), zap.Error(err))
		}
		s.lastOrder = ""
	}

	res, err := s.exchange.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: s.cfg.AccountID,
		Side:      p.Side,
		Price:     p.Price,
		Quantity:  p.Quantity,
	})
	if err != nil {
		s.metrics.ObserveCorrection(string(p.Side), "rejected")
		s.logger.Warn("correction skipped",
			zap.String("side", string(p.Side)), zap.Stringer("price", p.Price),
			zap.Stringer("quantity", p.Quantity), zap.Stringer("deviation", p.Deviation), zap.Error(err))
		return
	}
	if res.Remainder != nil {
		s.lastOrder = res.Order.ID
	}
	s.metrics.ObserveCorrection(string(p.Side), "placed")
	s.logger.Info("correction placed",
		zap.String("order_id", res.Order.ID), zap.String("side", string(p.Side)),
		zap.Stringer("price", p.Price), zap.Stringer("quantity", p.Quantity),
		zap.Stringer("last", md.LastPrice), zap.Stringer("deviation", p.Deviation),
		zap.Int("fills", len(res.Trades)))
}

// Run ticks every Interval until ctx is cancelled. No lock is held between
// ticks.
func (s *Stabilizer) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	s.logger.Info("stabilizer started",
		zap.String("account_id", s.cfg.AccountID), zap.Stringer("target", s.cfg.TargetPrice),
		zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stabilizer stopped")
			return nil
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

func (p Proposal) String() string {
	return fmt.Sprintf("%s %s@%s (deviation %s)", p.Side, p.Quantity, p.Price, p.Deviation)
}
