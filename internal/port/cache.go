package port

import (
	"context"

	"github.com/olyamironova/token-exchange/internal/domain"
)

// Cache holds the latest read-side views for consumers outside the process.
type Cache interface {
	SetDepth(ctx context.Context, symbol string, d *domain.Depth) error
	GetDepth(ctx context.Context, symbol string) (*domain.Depth, error)
	SetMarketData(ctx context.Context, symbol string, md *domain.MarketData) error
	GetMarketData(ctx context.Context, symbol string) (*domain.MarketData, error)
}
