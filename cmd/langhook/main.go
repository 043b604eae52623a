// LangHook server — ingests third-party webhooks, canonicalises them
// onto a durable event stream, and routes them to natural-language
// subscriptions within one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/langhook/langhook/pkg/api"
	"github.com/langhook/langhook/pkg/config"
	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/events"
	"github.com/langhook/langhook/pkg/gate"
	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/mapper"
	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/nlp"
	"github.com/langhook/langhook/pkg/ratelimit"
	"github.com/langhook/langhook/pkg/router"
	"github.com/langhook/langhook/pkg/services"
	"github.com/langhook/langhook/pkg/stream"
	"github.com/langhook/langhook/pkg/version"
)

func main() {
	envPath := flag.String("config",
		getEnv("LANGHOOK_ENV_FILE", ".env"),
		"Path to environment file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	ctx := context.Background()

	// 1. Load configuration
	serverCfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load server config", "error", err)
		os.Exit(1)
	}
	routerCfg, err := config.LoadRouterConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load router config", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting LangHook",
		"version", version.Full(),
		"http_port", serverCfg.Port,
		"prefix", serverCfg.Prefix)

	// 2. Database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Stream bus
	streamCfg, err := stream.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load stream config", "error", err)
		os.Exit(1)
	}
	streamClient, err := stream.Connect(streamCfg)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer streamClient.Close()
	if err := streamClient.EnsureStreams(ctx); err != nil {
		slog.Error("Failed to provision streams", "error", err)
		os.Exit(1)
	}

	// 4. Chat model. An unconfigured client stays usable; synthesis and
	// gating degrade per their own policies.
	llmCfg, err := llm.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load LLM config", "error", err)
		os.Exit(1)
	}
	model := llm.NewClient(llmCfg)

	// 5. Stores and shared metrics
	m := metrics.New()
	subscriptions := services.NewSubscriptionService(dbClient)
	eventLogs := services.NewEventLogService(dbClient)
	schemas := services.NewSchemaRegistryService(dbClient)
	mappings := services.NewIngestMappingService(dbClient)

	if n, err := mappings.Count(ctx); err != nil {
		slog.Warn("Could not count ingest mappings", "error", err)
	} else {
		m.SetActiveMappings(n)
	}

	// 6. Canonicaliser on the raw stream
	canonicaliser := mapper.NewCanonicaliser(mappings, schemas, eventLogs, model, streamClient, m)
	rawConsumer := stream.NewConsumer(stream.ConsumerConfig{
		URL:           streamClient.URL(),
		Stream:        streamCfg.RawStream,
		Durable:       "canonicaliser",
		FilterSubject: stream.RawConsumerFilter,
	}, canonicaliser.HandleRawEvent)
	if err := rawConsumer.Start(ctx); err != nil {
		slog.Error("Failed to start raw consumer", "error", err)
		os.Exit(1)
	}
	slog.Info("Raw event consumer started", "stream", streamCfg.RawStream)

	// 7. Subscription routing
	gateEval := gate.NewEvaluator(model, m)
	deliverer := router.NewDeliverer(routerCfg.DeliveryTimeout, m)
	supervisor := router.NewSupervisor(
		subscriptions, eventLogs, gateEval, deliverer,
		router.StreamStarter(streamClient.URL(), streamCfg.EventsStream),
		router.Config{ReconcileInterval: routerCfg.ReloadInterval},
	)
	if err := supervisor.Start(ctx); err != nil {
		slog.Error("Failed to start consumer supervisor", "error", err)
		os.Exit(1)
	}
	slog.Info("Consumer supervisor started", "consumers", supervisor.Count())

	// 7a. Cross-process subscription-change feed (dedicated pgx LISTEN
	// connection). The local API calls the supervisor synchronously; this
	// path converges replicas and is belt and braces locally.
	notifier := events.NewPublisher(dbClient.DB(), events.DefaultChannel)
	listener := events.NewListener(dbConfig.ConnString(), events.DefaultChannel, supervisor.HandleChange)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start subscription-change listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)

	// 8. Ingest rate limiter on shared Redis
	rate, err := ratelimit.ParseRate(serverCfg.RateLimit)
	if err != nil {
		slog.Error("Invalid RATE_LIMIT", "error", err)
		os.Exit(1)
	}
	redisOpts, err := redis.ParseURL(serverCfg.RedisURL)
	if err != nil {
		slog.Error("Invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	limiter := ratelimit.New(redisClient, rate, "")
	slog.Info("Rate limiter configured", "rate", rate.String())

	// 9. HTTP server
	compiler := nlp.NewCompiler(model, schemas)
	httpServer := api.NewServer(serverCfg, dbClient, subscriptions, eventLogs, schemas, compiler, supervisor, streamClient)
	httpServer.SetMetrics(m)
	httpServer.SetRateLimiter(limiter)
	httpServer.SetSecretLookup(config.SourceSecret)
	httpServer.SetNotifier(notifier)
	httpServer.SetChatModel(model)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + serverCfg.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("LangHook started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting HTTP first, then drain the
	// consumers so in-flight events ack or nack before the connections go.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		rawConsumer.Stop()
		supervisor.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Consumers stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Consumer shutdown timeout exceeded, un-acked events will be redelivered")
	}

	slog.Info("Shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
