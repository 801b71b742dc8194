package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
)

// Cache is the in-process counterpart of the Redis cache: the last write
// wins and reads return copies.
type Cache struct {
	mu     sync.Mutex
	depth  map[string]domain.Depth
	market map[string]domain.MarketData
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{
		depth:  make(map[string]domain.Depth),
		market: make(map[string]domain.MarketData),
	}
}

func (c *Cache) SetDepth(ctx context.Context, symbol string, d *domain.Depth) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *d
	cp.Bids = append([]domain.DepthLevel(nil), d.Bids...)
	cp.Asks = append([]domain.DepthLevel(nil), d.Asks...)
	c.depth[symbol] = cp
	return nil
}

// GetDepth returns nil, nil on a miss.
func (c *Cache) GetDepth(ctx context.Context, symbol string) (*domain.Depth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.depth[symbol]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (c *Cache) SetMarketData(ctx context.Context, symbol string, md *domain.MarketData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *md
	cp.PriceHistory = append([]domain.PricePoint(nil), md.PriceHistory...)
	cp.Candles = append([]domain.Candle(nil), md.Candles...)
	c.market[symbol] = cp
	return nil
}

func (c *Cache) GetMarketData(ctx context.Context, symbol string) (*domain.MarketData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	md, ok := c.market[symbol]
	if !ok {
		return nil, nil
	}
	return &md, nil
}
