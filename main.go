package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trigger-engine/internal/api"
	"trigger-engine/internal/engine"
	"trigger-engine/internal/events"
	"trigger-engine/internal/health"
	"trigger-engine/internal/market"
	"trigger-engine/internal/monitor"
	"trigger-engine/internal/order"
	"trigger-engine/internal/persistence"
	"trigger-engine/pkg/config"
	"trigger-engine/pkg/db"
	exspot "trigger-engine/pkg/exchanges/binance/spot"
	exchange "trigger-engine/pkg/exchanges/common"
	"trigger-engine/pkg/instance"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an API token for the given operator and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	hashSecret := flag.String("hash-secret", "", "print the WEBHOOK_SECRET_HASH value for a passphrase and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(cfg)

	switch {
	case *issueToken != "":
		token, err := api.IssueToken(*issueToken, cfg.JWTSecret, time.Now().Add(*tokenTTL))
		if err != nil {
			log.Fatal().Err(err).Msg("issue token failed")
		}
		fmt.Println(token)
		return
	case *hashSecret != "":
		hash, err := api.HashSecret(*hashSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("hash secret failed")
		}
		fmt.Println(hash)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("trigger engine stopped")
	}
}

func run(cfg *config.Config) error {
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "dev"
	}
	log.Info().Str("port", cfg.Port).Str("db", cfg.DBPath).Bool("dry_run", cfg.DryRun).
		Bool("mock_feed", cfg.UseMockFeed).Str("version", buildVersion).Msg("starting trigger engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	database.OrderRetention = cfg.OrderRetention
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	bus := events.NewBus()

	venue, ex := buildExchange(ctx, cfg)

	writer := persistence.NewPriceWriter(database, 100, cfg.PriceFlushInterval(), cfg.PriceRetention)
	defer writer.Close()

	mode := "LIVE"
	if !cfg.Live() {
		mode = "DRY_RUN"
	}
	eng := engine.NewImpl(engine.Config{
		Exchange:       ex,
		Store:          &order.SQLStore{DB: database},
		Bus:            bus,
		Metrics:        metrics,
		Recorder:       writer,
		Thresholds:     cfg.Trading.Thresholds,
		Risk:           cfg.Trading.Risk,
		QueuePacing:    cfg.QueuePacing(),
		Backoff:        market.Backoff{Base: cfg.ReconnectBaseDelay(), MaxAttempts: cfg.MaxReconnectAttempts},
		InitRetries:    cfg.InitRetries,
		InitRetryDelay: cfg.InitRetryDelay(),
		Meta: engine.SystemStatus{
			Mode:       mode,
			DryRun:     !cfg.Live(),
			Venue:      venue,
			InstanceID: instance.ID(),
			Version:    buildVersion,
		},
	})

	healthSrv := health.NewServer()
	eng.OnFeedState(healthSrv.SetFeedState)

	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}, Metrics: metrics}
	mon.Start(ctx)
	eng.Start(ctx)

	server := api.NewServer(api.Options{
		Engine:            eng,
		Bus:               bus,
		Metrics:           metrics,
		Gatherer:          reg,
		JWTSecret:         cfg.JWTSecret,
		WebhookSecretHash: cfg.WebhookSecretHash,
		RateLimit:         rate.Limit(cfg.RateLimitPerSecond),
		RateBurst:         cfg.RateLimitBurst,
	})
	if cfg.WebhookSecretHash == "" {
		log.Warn().Msg("WEBHOOK_SECRET_HASH not set; webhook accepts unauthenticated signals")
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("api: listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("health: listening")
		if err := healthSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api: shutdown")
	}
	healthSrv.Stop()
	eng.Stop()
	if err := writer.Flush(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("price writer: final flush")
	}
	return runErr
}

// buildExchange picks the venue: the in-process simulator, live Binance
// prices with simulated fills, or live Binance trading.
func buildExchange(ctx context.Context, cfg *config.Config) (string, exchange.Exchange) {
	sim := market.NewMockExchange(market.MockConfig{
		InitialBalance: cfg.DryRunInitialBalance,
		FeeRate:        cfg.DryRunFeeRate,
		SlippageBps:    cfg.DryRunSlippageBps,
		LatencyMin:     time.Duration(cfg.DryRunLatencyMinMs) * time.Millisecond,
		LatencyMax:     time.Duration(cfg.DryRunLatencyMaxMs) * time.Millisecond,
	})
	if cfg.UseMockFeed {
		return "mock", sim
	}

	spot := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	if err := spot.SyncTime(ctx); err != nil {
		log.Warn().Err(err).Msg("binance: time sync failed, using local clock")
	}
	if cfg.DryRun {
		return "binance-spot-paper", market.NewPaperExchange(spot, sim)
	}
	return "binance-spot", spot
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}
