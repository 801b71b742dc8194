// Package config loads server settings from an optional YAML file and
// EXCHANGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Market     MarketConfig     `mapstructure:"market"`
	Stabilizer StabilizerConfig `mapstructure:"stabilizer"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Accounts   []AccountSeed    `mapstructure:"accounts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Decimal settings are kept as strings and parsed by Validate, so values
// never pass through float64.
type MarketConfig struct {
	Symbol           string        `mapstructure:"symbol"`
	TotalSupply      string        `mapstructure:"total_supply"`
	PriceHistorySize int           `mapstructure:"price_history_size"`
	RecentTradesSize int           `mapstructure:"recent_trades_size"`
	Window           time.Duration `mapstructure:"window"`
	CandleInterval   time.Duration `mapstructure:"candle_interval"`
	PricePlaces      int32         `mapstructure:"price_places"`
	QuantityPlaces   int32         `mapstructure:"quantity_places"`

	totalSupply decimal.Decimal
}

type StabilizerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	AccountID   string        `mapstructure:"account_id"`
	TargetPrice string        `mapstructure:"target_price"`
	Threshold   string        `mapstructure:"threshold"`
	BaseSize    string        `mapstructure:"base_size"`
	MaxSize     string        `mapstructure:"max_size"`
	PriceOffset string        `mapstructure:"price_offset"`
	CancelStale bool          `mapstructure:"cancel_stale"`

	parsed struct {
		target, threshold, base, max, offset decimal.Decimal
	}
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type JournalConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AccountSeed struct {
	ID    string `mapstructure:"id"`
	Token string `mapstructure:"token"`
	Fiat  string `mapstructure:"fiat"`
}

const (
	JournalNone     = "none"
	JournalFile     = "file"
	JournalPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("market.symbol", "TKN/USD")
	v.SetDefault("market.total_supply", "1000000")
	v.SetDefault("market.price_history_size", 30)
	v.SetDefault("market.recent_trades_size", 1000)
	v.SetDefault("market.window", "24h")
	v.SetDefault("market.candle_interval", "1m")
	v.SetDefault("market.price_places", 8)
	v.SetDefault("market.quantity_places", 8)

	v.SetDefault("stabilizer.enabled", false)
	v.SetDefault("stabilizer.interval", "5s")
	v.SetDefault("stabilizer.account_id", "market-maker")
	v.SetDefault("stabilizer.target_price", "10")
	v.SetDefault("stabilizer.threshold", "0.03")
	v.SetDefault("stabilizer.base_size", "10")
	v.SetDefault("stabilizer.max_size", "100")
	v.SetDefault("stabilizer.price_offset", "0.001")
	v.SetDefault("stabilizer.cancel_stale", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit", 100)
	v.SetDefault("http.rate_window", "1s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("grpc.addr", ":9090")

	v.SetDefault("journal.driver", JournalNone)
	v.SetDefault("journal.path", "data/journal.jsonl")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1m")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "exchange.trades")
}

// Load reads path (skipped when empty or missing), applies EXCHANGE_*
// overrides such as EXCHANGE_HTTP_ADDR and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Market.Symbol == "" {
		errs = append(errs, errors.New("market.symbol is required"))
	}
	if c.Market.PricePlaces < 0 || c.Market.QuantityPlaces < 0 {
		errs = append(errs, errors.New("market.price_places and market.quantity_places must be >= 0"))
	}
	if ts, err := positive("market.total_supply", c.Market.TotalSupply); err != nil {
		errs = append(errs, err)
	} else {
		c.Market.totalSupply = ts
	}

	switch c.Journal.Driver {
	case JournalNone:
	case JournalFile:
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path is required for the file journal"))
		}
	case JournalPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.driver %q is not one of none, file, postgres", c.Journal.Driver))
	}

	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must be >= 0"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}

	for i, a := range c.Accounts {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("accounts[%d].id is required", i))
		}
		for name, s := range map[string]string{"token": a.Token, "fiat": a.Fiat} {
			if s == "" {
				continue
			}
			if v, err := decimal.NewFromString(s); err != nil || v.IsNegative() {
				errs = append(errs, fmt.Errorf("accounts[%d].%s: %q is not a non-negative number", i, name, s))
			}
		}
	}

	if c.Stabilizer.Enabled {
		s := &c.Stabilizer
		if s.AccountID == "" {
			errs = append(errs, errors.New("stabilizer.account_id is required"))
		}
		if s.Interval <= 0 {
			errs = append(errs, errors.New("stabilizer.interval must be > 0"))
		}
		for _, f := range []struct {
			key string
			raw string
			dst *decimal.Decimal
		}{
			{"stabilizer.target_price", s.TargetPrice, &s.parsed.target},
			{"stabilizer.threshold", s.Threshold, &s.parsed.threshold},
			{"stabilizer.base_size", s.BaseSize, &s.parsed.base},
			{"stabilizer.max_size", s.MaxSize, &s.parsed.max},
		} {
			v, err := positive(f.key, f.raw)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			*f.dst = v
		}
		off, err := decimal.NewFromString(s.PriceOffset)
		if err != nil || off.IsNegative() {
			errs = append(errs, fmt.Errorf("stabilizer.price_offset: %q is not a non-negative number", s.PriceOffset))
		}
		s.parsed.offset = off
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func positive(key, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %q is not a positive number", key, raw)
	}
	return v, nil
}

func (m MarketConfig) TotalSupplyDecimal() decimal.Decimal { return m.totalSupply }

func (s StabilizerConfig) Target() decimal.Decimal         { return s.parsed.target }
func (s StabilizerConfig) ThresholdRatio() decimal.Decimal { return s.parsed.threshold }
func (s StabilizerConfig) Base() decimal.Decimal           { return s.parsed.base }
func (s StabilizerConfig) Max() decimal.Decimal            { return s.parsed.max }
func (s StabilizerConfig) Offset() decimal.Decimal         { return s.parsed.offset }

// Amounts parses the seed balances; Validate has already checked them.
func (a AccountSeed) Amounts() (token, fiat decimal.Decimal) {
	token, _ = decimal.NewFromString(orZero(a.Token))
	fiat, _ = decimal.NewFromString(orZero(a.Fiat))
	return token, fiat
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
