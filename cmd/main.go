package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/exaring/otelpgx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	// Instrumentation
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/feedrank/config"
	"github.com/jupiterclapton/feedrank/internal/adapters/primary/events"
	"github.com/jupiterclapton/feedrank/internal/adapters/primary/httpapi"
	"github.com/jupiterclapton/feedrank/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/feedrank/internal/adapters/secondary/counter"
	"github.com/jupiterclapton/feedrank/internal/adapters/secondary/graph"
	"github.com/jupiterclapton/feedrank/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/feedrank/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg := config.Load()
	initLogger(cfg)
	slog.Info("🚀 Starting Feedrank Service", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Redis (Cache Store + Counter Store)
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		panic(err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Redis")

	cacheStore := cache.NewRedisCacheStore(rdb)
	counterStore := counter.NewRedisCounterStore(rdb)

	// 4. Infrastructure: Postgres (Content Store)
	poolCfg, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Invalid DB URL", "error", err)
		os.Exit(1)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("✅ Connected to Postgres")

	contentRepo := repository.NewPostgresContentRepo(db)

	// 5. Infrastructure: Neo4j (Follow Graph)
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jUrl, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		slog.Error("Unable to create Neo4j driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		slog.Error("Unable to connect to Neo4j", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Neo4j")

	followGraph := graph.NewNeo4jFollowGraph(driver)

	// 6. Infrastructure: Event Broker NATS
	nc, err := nats.Connect(cfg.NatsUrl)
	if err != nil {
		slog.Error("Unable to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("✅ Connected to NATS")

	// 7. Initialisation du Core
	feedService := services.NewFeedService(contentRepo, contentRepo, followGraph)
	janitor := services.NewCacheJanitor(cacheStore, followGraph)

	// 8. Consumer NATS (Driving Adapter - Async) : invalidation du cache
	handler := events.NewEventHandler(janitor)
	if _, err := nc.Subscribe("content.created", handler.HandleContentCreated); err != nil {
		slog.Error("Failed to subscribe to NATS", "subject", "content.created", "error", err)
		os.Exit(1)
	}
	if _, err := nc.Subscribe("content.deleted", handler.HandleContentDeleted); err != nil {
		slog.Error("Failed to subscribe to NATS", "subject", "content.deleted", "error", err)
		os.Exit(1)
	}
	slog.Info("👂 Listening for content events (NATS)")

	// 9. Serveur HTTP (Driving Adapter - Sync)
	server := httpapi.NewServer(
		feedService,
		httpapi.NewCacheLayer(cacheStore),
		httpapi.Limiters{
			General:   services.NewRateLimiter(counterStore, services.PresetGeneral),
			Analytics: services.NewRateLimiter(counterStore, services.PresetAnalytics),
			Creation:  services.NewRateLimiter(counterStore, services.PresetCreation),
		},
		httpapi.CacheTTLs{
			Feed:     cfg.FeedCacheTTL,
			Search:   cfg.SearchCacheTTL,
			Profile:  cfg.ProfileCacheTTL,
			Trending: cfg.TrendingCacheTTL,
		},
		loadPublicKey(cfg),
	)

	httpHandler := otelhttp.NewHandler(cors.Default().Handler(server.Handler()), "feedrank-http")

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("📡 Feedrank HTTP listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Forced shutdown", "error", err)
	}
	slog.Info("👋 Server exited")
}

// --- Helpers ---

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("feedrank"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// loadPublicKey parse la clé publique RSA du service identité. Sans clé,
// tout le monde est anonyme (le feed reste servable).
func loadPublicKey(cfg config.Config) *rsa.PublicKey {
	if cfg.JWTPublicKey == "" {
		slog.Warn("⚠️ No JWT public key configured, all viewers are anonymous")
		return nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKey))
	if err != nil {
		slog.Error("Failed to parse JWT public key", "error", err)
		os.Exit(1)
	}
	return key
}
