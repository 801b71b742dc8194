// Package kafka publishes the trade feed to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var _ port.TradePublisher = (*TradePublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradePublisher writes one message per trade, keyed by symbol so a
// symbol's trades stay ordered within a partition.
type TradePublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewTradePublisher(brokers []string, topic string, logger *zap.Logger) *TradePublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Compression:  kafka.Snappy,
	}
	return newTradePublisher(w, logger)
}

func newTradePublisher(w messageWriter, logger *zap.Logger) *TradePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradePublisher{writer: w, logger: logger.Named("kafka")}
}

// tradeMessage is the wire shape of the feed.
type tradeMessage struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	BuyOrder  string    `json:"buy_order_id"`
	SellOrder string    `json:"sell_order_id"`
	Aggressor string    `json:"aggressor"`
	Price     string    `json:"price"`
	Quantity  string    `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *TradePublisher) PublishTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		b, err := json.Marshal(tradeMessage{
			ID:        t.ID,
			Symbol:    t.Symbol,
			BuyOrder:  t.BuyOrder,
			SellOrder: t.SellOrder,
			Aggressor: string(t.Aggressor),
			Price:     t.Price.String(),
			Quantity:  t.Quantity.String(),
			Timestamp: t.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("kafka: encode trade %s: %w", t.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Symbol),
			Value: b,
			Time:  t.Timestamp,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte("trade")},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish %d trades: %w", len(msgs), err)
	}
	p.logger.Debug("trades published", zap.Int("count", len(msgs)))
	return nil
}

func (p *TradePublisher) Close() error {
	return p.writer.Close()
}
