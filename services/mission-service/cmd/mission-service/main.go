package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/missionwindow/libs/config"
	"github.com/md-rashed-zaman/missionwindow/libs/db"
	"github.com/md-rashed-zaman/missionwindow/libs/grpcx"
	"github.com/md-rashed-zaman/missionwindow/libs/httpx"
	"github.com/md-rashed-zaman/missionwindow/libs/kafkax"
	otelx "github.com/md-rashed-zaman/missionwindow/libs/otel"
	"github.com/md-rashed-zaman/missionwindow/libs/runtime"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/booking"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/consumer"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/grpcserver"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/handlers"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/inbox"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/outbox"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	service := config.String("SERVICE_NAME", "mission-service")
	logger := runtime.NewLogger(service)
	if err := run(service, logger); err != nil {
		logger.Error("mission-service exited", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	logger.Info("policy loaded",
		"pre_buffer", pol.PreBuffer.String(),
		"post_buffer", pol.PostBuffer.String(),
		"gap", pol.Gap.String(),
		"slot_granularity", pol.SlotGranularity.String(),
	)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(service)
	if err != nil {
		return err
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
	if err != nil {
		return err
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	cancelTopic := config.String("KAFKA_CANCEL_TOPIC", booking.EventCancelRequested)
	repo := storage.NewMissionRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	bookings := booking.NewService(pool, repo, outboxRepo, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})

	maxShifts, err := config.Int("SUGGEST_MAX_SHIFTS", 48)
	if err != nil {
		return err
	}
	horizonDays, err := config.Int("SUGGEST_HORIZON_DAYS", 30)
	if err != nil {
		return err
	}
	missionHandler := handlers.NewMissionHandler(repo, bookings, policy.NewStaticProvider(pol), logger, handlers.Options{
		DefaultZone:    config.String("DEFAULT_ZONE", "UTC"),
		MaxShifts:      maxShifts,
		SuggestHorizon: time.Duration(horizonDays) * 24 * time.Hour,
	})

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cancelTopic)})
	}
	if addr := config.String("FLEET_GRPC_ADDR", ""); addr != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "fleet", Check: grpcx.ReadyCheck(addr, config.String("FLEET_GRPC_SERVICE", ""))})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	missionHandler.Register(mux)

	limiter, closeLimiter, err := rateLimiter(ctx, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			ExposedHeaders: []string{httpx.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		limiter,
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "missions"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}
	grpcSrv := grpcserver.New(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	g.Go(func() error { return grpcSrv.Serve(gctx, lis) })
	g.Go(func() error { return publisher.Run(gctx) })
	if brokers != "" && cancelTopic != "" {
		cancelConsumer := consumer.New(logger, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   cancelTopic,
		}, bookings.CancelRequestHandler(inboxRepo))
		g.Go(func() error { return cancelConsumer.Run(gctx) })
	}
	g.Go(func() error {
		watchDB(gctx, pool, grpcSrv, logger)
		return nil
	})
	return g.Wait()
}

func loadPolicy() (policy.Policy, error) {
	if path := config.String("POLICY_FILE", ""); path != "" {
		return policy.LoadFile(path)
	}
	return policy.FromEnv()
}

// rateLimiter prefers the shared Redis limiter and falls back to the
// in-process one when REDIS_ADDR is unset. Both bucket mission writes by
// aircraft and the rest by client.
func rateLimiter(ctx context.Context, logger *slog.Logger) (httpx.Middleware, func(), error) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, nil, err
	}
	addr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if addr == "" {
		return httpx.NewRateLimiter(limit, time.Minute).Middleware(handlers.RateLimitKey), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup", "addr", addr, "err", err)
	}
	rl := httpx.NewRedisRateLimiter(rdb, httpx.RedisLimitConfig{
		Limit:    limit,
		Window:   time.Minute,
		Prefix:   config.String("RATE_LIMIT_PREFIX", ""),
		Key:      handlers.RateLimitKey,
		FailOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
	})
	return rl.Middleware(logger), func() { _ = rdb.Close() }, nil
}

// watchDB keeps the gRPC health status in step with database reachability.
func watchDB(ctx context.Context, pool *db.Pool, srv *grpcserver.Server, logger *slog.Logger) {
	check := db.ReadyCheck(pool)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := check(cctx)
			cancel()
			if ok := err == nil; ok != healthy {
				healthy = ok
				srv.SetServing(ok)
				logger.Warn("database health changed", "healthy", ok, "err", err)
			}
		}
	}
}
