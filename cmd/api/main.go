// Package main implements the AskGeorge API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/askgeorge/askgeorge/engine/app"
	"github.com/askgeorge/askgeorge/engine/session"
	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/mid"
	"github.com/askgeorge/askgeorge/pkg/resilience"
	"github.com/askgeorge/askgeorge/pkg/telemetry"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	CORSOrigin   string
	RedisAddr    string // empty keeps sessions in memory
	SessionTTL   time.Duration
	NATSURL      string // empty disables the NATS responder and turn events
	OTLPEndpoint string
	SampleRate   float64
	RateLimit    float64
	RateBurst    int

	Pipeline app.Config
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		SessionTTL:   envDuration("SESSION_TTL", session.DefaultTTL),
		NATSURL:      os.Getenv("NATS_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:   envFloat("OTEL_SAMPLE_RATE", 1),
		RateLimit:    envFloat("RATE_LIMIT_RPS", resilience.DefaultLimiterOpts.Rate),
		RateBurst:    envInt("RATE_LIMIT_BURST", resilience.DefaultLimiterOpts.Burst),
		Pipeline:     app.FromEnv(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "askgeorge-api",
		SampleRate:  cfg.SampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	// --- Answer pipeline ---
	reg := metrics.New().WithRuntime()
	pipeline, err := app.Build(ctx, cfg.Pipeline, app.Deps{}, reg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer pipeline.Close(context.Background())

	// --- Sessions ---
	sessions, closeSessions, err := openSessions(cfg, pipeline.Config.HistoryTurns, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	var modes []string
	for _, m := range pipeline.Dispatcher.Modes() {
		modes = append(modes, string(m))
	}
	srv := &server{
		answers:   pipeline.Service,
		sessions:  sessions,
		validMode: pipeline.Dispatcher.Valid,
		modes:     modes,
		rerank:    cfg.Pipeline.Rerank,
		logger:    logger,
	}

	// --- NATS ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("askgeorge-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		if _, err := serveAsk(nc, pipeline.Service, logger); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		if _, err := purgeOnIndex(nc, pipeline.Chunks, logger); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		srv.publish = turnPublisher(nc, logger)
		logger.Info("nats responder ready", "subject", subjectAsk)
	}

	// --- HTTP server ---
	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
	handler := mid.Chain(srv.routes(reg),
		mid.Recover(logger),
		mid.RequestID(),
		mid.OTel("askgeorge-api"),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(limiter, nil),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "mode", pipeline.Service.DefaultMode())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// openSessions picks Redis when REDIS_ADDR is set, memory otherwise.
func openSessions(cfg Config, turns int, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		st, err := session.NewMemoryStore(session.DefaultMaxSessions, turns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sessions kept in memory")
		return st, func() {}, nil
	}
	client := redisv9.NewClient(&redisv9.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("sessions kept in redis", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
	return session.NewRedisStore(client, cfg.SessionTTL, turns), func() { client.Close() }, nil
}
