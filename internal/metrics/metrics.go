package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine and stabilizer collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Orders                *prometheus.CounterVec
	Cancels               *prometheus.CounterVec
	Trades                prometheus.Counter
	TradedVolume          prometheus.Counter
	LastPrice             prometheus.Gauge
	RestingOrders         prometheus.Gauge
	MatchDuration         prometheus.Histogram
	BookHalted            prometheus.Gauge
	StabilizerCorrections *prometheus.CounterVec
	StabilizerDeviation   prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "orders_total",
			Help:      "Submitted orders by side and outcome",
		}, []string{"side", "result"}),
		Cancels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "cancels_total",
			Help:      "Cancel requests by outcome",
		}, []string{"result"}),
		Trades: f.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "trades_total",
			Help:      "Executed trades",
		}),
		TradedVolume: f.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "traded_volume",
			Help:      "Executed token quantity",
		}),
		LastPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "last_price",
			Help:      "Price of the most recent trade",
		}),
		RestingOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "resting_orders",
			Help:      "Orders currently resting in the book",
		}),
		MatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Name:      "match_duration_seconds",
			Help:      "Time spent inside the matching critical section",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		BookHalted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "book_halted",
			Help:      "1 when the book stopped after a ledger invariant violation",
		}),
		StabilizerCorrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "stabilizer",
			Name:      "corrections_total",
			Help:      "Corrective orders by side and outcome",
		}, []string{"side", "result"}),
		StabilizerDeviation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "stabilizer",
			Name:      "deviation_ratio",
			Help:      "Last observed (last - target) / target",
		}),
	}
}

func (m *Metrics) ObserveOrder(side, result string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(side, result).Inc()
}

func (m *Metrics) ObserveCancel(result string) {
	if m == nil {
		return
	}
	m.Cancels.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTrade(price, qty float64) {
	if m == nil {
		return
	}
	m.Trades.Inc()
	m.TradedVolume.Add(qty)
	m.LastPrice.Set(price)
}

func (m *Metrics) ObserveMatch(seconds float64, resting int) {
	if m == nil {
		return
	}
	m.MatchDuration.Observe(seconds)
	m.RestingOrders.Set(float64(resting))
}

func (m *Metrics) SetHalted() {
	if m == nil {
		return
	}
	m.BookHalted.Set(1)
}

func (m *Metrics) ObserveCorrection(side, result string) {
	if m == nil {
		return
	}
	m.StabilizerCorrections.WithLabelValues(side, result).Inc()
}

func (m *Metrics) SetDeviation(v float64) {
	if m == nil {
		return
	}
	m.StabilizerDeviation.Set(v)
}
