package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items/store"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/cache"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/consumer"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/handler"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("matcher service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("matcher service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting matcher service",
		"port", cfg.Server.Port,
		"threshold", cfg.Matcher.Threshold,
		"default_limit", cfg.Matcher.DefaultLimit,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var db *postgres.Client
	err := resilience.Retry(ctx, "postgres-connect", resilience.Backoff{
		Attempts: 5,
		Initial:  500 * time.Millisecond,
	}, func(ctx context.Context, _ int) error {
		var err error
		db, err = postgres.Open(ctx, cfg.Postgres)
		return err
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	slog.Info("connected to postgres",
		"host", cfg.Postgres.Host,
		"open_connections", db.PoolStats().OpenConnections,
	)
	itemStore := store.New(db)

	engine, err := matcher.New(ctx, itemStore, cfg.Matcher, matcher.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("creating matching engine: %w", err)
	}

	var matchCache *cache.MatchCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, match caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
				OnStateChange: func(name string, to resilience.State) {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			matchCache = cache.New(redisClient, cfg.Redis.CacheTTL,
				cache.WithMetrics(m),
				cache.WithBreaker(breaker),
			)
			slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	consumerOpts := []consumer.Option{}
	if matchCache != nil {
		consumerOpts = append(consumerOpts, consumer.WithCache(matchCache))
	}

	var (
		alertProducer *kafka.Producer
		notifier      *notify.Notifier
		eventConsumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		alertProducer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MatchAlerts)
		defer alertProducer.Close()
		notifier = notify.New(engine, alertProducer, cfg.Matcher, notify.WithMetrics(m))
		notifier.Start(ctx)
		defer notifier.Close()
		consumerOpts = append(consumerOpts, consumer.WithAlerts(notifier))
		slog.Info("match alerts enabled",
			"topic", cfg.Kafka.Topics.MatchAlerts,
			"notify_threshold", cfg.Matcher.NotifyThreshold,
		)
	}
	changes := consumer.New(engine, consumerOpts...)
	if cfg.Kafka.Enabled {
		eventConsumer = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ItemEvents, changes.HandleMessage)
		defer eventConsumer.Close()
	}

	checker := health.NewChecker()
	checker.Register("postgres", true, health.Ping(db.Ping))
	if cfg.Redis.Enabled {
		checker.Register("redis", false, health.Ping(func(ctx context.Context) error {
			if redisClient == nil {
				return errors.New("not connected")
			}
			return redisClient.Ping(ctx)
		}))
	}
	checker.Register("engine", true, func(context.Context) (string, error) {
		stats := engine.Stats()
		return fmt.Sprintf("%s, %d items, %d terms", stats.State, stats.ActiveItems, stats.VocabularyTerms), nil
	})

	h := handler.New(engine, itemStore, changes, matchCache, cfg.Matcher)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateLimitWindow)
		go limiter.Run(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.Observe(m)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...))(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("matcher service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if eventConsumer != nil {
		g.Go(func() error {
			return eventConsumer.Start(gctx)
		})
	}
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, reg)
		g.Go(func() error {
			return metricsServer.Run(gctx, cfg.Server.ShutdownTimeout)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		checker.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
