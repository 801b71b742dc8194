package port

import (
	"context"

	"github.com/olyamironova/token-exchange/internal/domain"
)

type TradePublisher interface {
	PublishTrades(ctx context.Context, trades []domain.Trade) error
}
