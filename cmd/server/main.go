package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/token-exchange/internal/adapter/cache"
	"github.com/olyamironova/token-exchange/internal/adapter/file"
	"github.com/olyamironova/token-exchange/internal/adapter/kafka"
	"github.com/olyamironova/token-exchange/internal/adapter/pg"
	grpcapi "github.com/olyamironova/token-exchange/internal/api/grpc"
	httpapi "github.com/olyamironova/token-exchange/internal/api/http"
	"github.com/olyamironova/token-exchange/internal/config"
	"github.com/olyamironova/token-exchange/internal/core"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/logger"
	"github.com/olyamironova/token-exchange/internal/marketdata"
	"github.com/olyamironova/token-exchange/internal/metrics"
	"github.com/olyamironova/token-exchange/internal/port"
	"github.com/olyamironova/token-exchange/internal/stabilizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	journal, closeJournal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	engineCfg := core.Config{
		Symbol:         cfg.Market.Symbol,
		PricePlaces:    cfg.Market.PricePlaces,
		QuantityPlaces: cfg.Market.QuantityPlaces,
		RecentTrades:   cfg.Market.RecentTradesSize,
		Market: marketdata.Config{
			Symbol:         cfg.Market.Symbol,
			TotalSupply:    cfg.Market.TotalSupplyDecimal(),
			HistorySize:    cfg.Market.PriceHistorySize,
			Window:         cfg.Market.Window,
			CandleInterval: cfg.Market.CandleInterval,
		},
	}
	opts := []core.Option{core.WithLogger(log), core.WithMetrics(m)}
	if journal != nil {
		opts = append(opts, core.WithJournal(journal))
	}
	eng := core.NewEngine(engineCfg, opts...)
	if journal != nil {
		if _, err := eng.Restore(ctx, journal); err != nil {
			return err
		}
	}

	for _, a := range cfg.Accounts {
		token, fiat := a.Amounts()
		_, err := eng.OpenAccount(ctx, a.ID, token, fiat)
		switch {
		case errors.Is(err, domain.ErrAccountExists):
			log.Debug("seed account already present", zap.String("account_id", a.ID))
		case err != nil && !errors.Is(err, domain.ErrDegradedDurability):
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}

	var tradeCache port.Cache
	if cfg.Redis.Addr != "" {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		defer func() { _ = rc.Close() }()
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis unreachable, cache writes will fail until it recovers", zap.Error(err))
		}
		tradeCache = rc
	}
	var publisher port.TradePublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewTradePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := httpapi.NewHTTPServer(eng, log, httpapi.Options{
		RateLimit:  cfg.HTTP.RateLimit,
		RateWindow: cfg.HTTP.RateWindow,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	grpcSrv := grpcapi.NewGRPCServer(eng, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(cfg.HTTP.Addr) })
	g.Go(func() error { return grpcSrv.Run(cfg.GRPC.Addr) })
	if tradeCache != nil || publisher != nil {
		g.Go(func() error { return core.NewFanout(eng, tradeCache, publisher, log).Run(gctx) })
	}
	if cfg.Stabilizer.Enabled {
		st, err := stabilizer.New(stabilizer.Config{
			AccountID:      cfg.Stabilizer.AccountID,
			Interval:       cfg.Stabilizer.Interval,
			TargetPrice:    cfg.Stabilizer.Target(),
			Threshold:      cfg.Stabilizer.ThresholdRatio(),
			BaseSize:       cfg.Stabilizer.Base(),
			MaxSize:        cfg.Stabilizer.Max(),
			PriceOffset:    cfg.Stabilizer.Offset(),
			PricePlaces:    cfg.Market.PricePlaces,
			QuantityPlaces: cfg.Market.QuantityPlaces,
			CancelStale:    cfg.Stabilizer.CancelStale,
		}, eng, log, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return st.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func openJournal(ctx context.Context, cfg *config.Config) (port.Journal, func(), error) {
	switch cfg.Journal.Driver {
	case config.JournalFile:
		j, err := file.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = j.Close() }, nil
	case config.JournalPostgres:
		j, err := pg.NewJournal(ctx, cfg.Postgres.DSN, cfg.Market.Symbol)
		if err != nil {
			return nil, nil, err
		}
		if err := j.EnsureSchema(ctx); err != nil {
			j.Close()
			return nil, nil, err
		}
		return j, j.Close, nil
	default:
		return nil, func() {}, nil
	}
}
