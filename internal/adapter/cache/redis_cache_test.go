package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	b, ok := value.([]byte)
	if !ok {
		return redis.NewStatusResult("", errors.New("unexpected value type"))
	}
	f.values[key] = string(b)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}
func (f *fakeClient) Close() error { return nil }

func TestRedisCache_MissReturnsNil(t *testing.T) {
	c := NewRedisCacheWithClient(newFakeClient(), time.Minute)
	d, err := c.GetDepth(context.Background(), "TKN/USD")
	require.NoError(t, err)
	assert.Nil(t, d)
	md, err := c.GetMarketData(context.Background(), "TKN/USD")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestRedisCache_DepthRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	c := NewRedisCacheWithClient(client, 30*time.Second)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	in := &domain.Depth{
		Symbol:    "TKN/USD",
		Seq:       7,
		Bids:      []domain.DepthLevel{{Price: decimal.RequireFromString("9.95"), Quantity: decimal.RequireFromString("1.5"), Orders: 2}},
		Asks:      []domain.DepthLevel{{Price: decimal.RequireFromString("10.05"), Quantity: decimal.NewFromInt(3), Orders: 1}},
		Timestamp: at,
	}
	require.NoError(t, c.SetDepth(ctx, "TKN/USD", in))
	assert.Contains(t, client.values, "exchange:depth:TKN/USD")
	assert.Equal(t, 30*time.Second, client.ttls["exchange:depth:TKN/USD"])

	out, err := c.GetDepth(ctx, "TKN/USD")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(7), out.Seq)
	require.Len(t, out.Bids, 1)
	assert.True(t, out.Bids[0].Price.Equal(in.Bids[0].Price))
	assert.Equal(t, "1.5", out.Bids[0].Quantity.String())
	assert.True(t, out.Timestamp.Equal(at))
}

func TestRedisCache_MarketDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	c := NewRedisCacheWithClient(client, time.Minute)

	require.NoError(t, c.SetMarketData(ctx, "TKN/USD", &domain.MarketData{
		Symbol: "TKN/USD", LastPrice: decimal.RequireFromString("10.5"), TradeCount: 3,
	}))
	assert.Contains(t, client.values, "exchange:market:TKN/USD")

	md, err := c.GetMarketData(ctx, "TKN/USD")
	require.NoError(t, err)
	assert.Equal(t, "10.5", md.LastPrice.String())
	assert.Equal(t, uint64(3), md.TradeCount)
}

func TestRedisCache_Errors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	c := NewRedisCacheWithClient(client, time.Minute)

	client.values["exchange:depth:TKN/USD"] = "{not json"
	_, err := c.GetDepth(ctx, "TKN/USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode exchange:depth:TKN/USD")

	client.getErr = errors.New("connection refused")
	_, err = c.GetMarketData(ctx, "TKN/USD")
	require.ErrorIs(t, err, client.getErr)
}
