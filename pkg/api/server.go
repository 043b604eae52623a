// Package api hosts the LangHook HTTP surface: webhook ingest,
// subscription management, event log queries, schema vocabulary,
// health, and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/config"
	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/events"
	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/nlp"
	"github.com/langhook/langhook/pkg/ratelimit"
	"github.com/langhook/langhook/pkg/router"
	"github.com/langhook/langhook/pkg/services"
	"github.com/langhook/langhook/pkg/stream"
)

// Server wires the HTTP routes to the subscription store, the pattern
// compiler, the consumer supervisor, and the raw event stream.
type Server struct {
	cfg  config.ServerConfig
	echo *echo.Echo

	dbClient      *database.Client
	subscriptions *services.SubscriptionService
	eventLogs     *services.EventLogService
	schemas       *services.SchemaRegistryService
	compiler      *nlp.Compiler
	supervisor    *router.Supervisor
	publisher     stream.Publisher

	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	secrets  func(source string) string
	notifier *events.Publisher
	model    llm.ChatModel

	httpServer *http.Server
}

// NewServer creates the API server and registers all routes. Optional
// collaborators (rate limiter, HMAC secrets, change notifier, chat
// model) are attached with the Set* methods before Start.
func NewServer(
	cfg config.ServerConfig,
	dbClient *database.Client,
	subscriptions *services.SubscriptionService,
	eventLogs *services.EventLogService,
	schemas *services.SchemaRegistryService,
	compiler *nlp.Compiler,
	supervisor *router.Supervisor,
	publisher stream.Publisher,
) *Server {
	s := &Server{
		cfg:           cfg,
		dbClient:      dbClient,
		subscriptions: subscriptions,
		eventLogs:     eventLogs,
		schemas:       schemas,
		compiler:      compiler,
		supervisor:    supervisor,
		publisher:     publisher,
		metrics:       metrics.New(),
		secrets:       func(string) string { return "" },
	}

	s.echo = echo.New()
	s.echo.Use(securityHeaders())
	s.registerRoutes()
	return s
}

// SetMetrics replaces the default private metrics registry with the
// shared process-wide one.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetRateLimiter enables per-client-IP ingest rate limiting.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// SetSecretLookup installs the per-source HMAC secret lookup, typically
// config.SourceSecret. An empty result means verification is skipped.
func (s *Server) SetSecretLookup(lookup func(source string) string) {
	if lookup != nil {
		s.secrets = lookup
	}
}

// SetNotifier installs the subscription-change notifier so other
// replicas learn about mutations made through this instance.
func (s *Server) SetNotifier(p *events.Publisher) {
	s.notifier = p
}

// SetChatModel installs the chat model whose availability the health
// roll-up reports.
func (s *Server) SetChatModel(m llm.ChatModel) {
	s.model = m
}

// registerRoutes mounts every route, under the configured path prefix
// when one is set. Paths are registered with and without a trailing
// slash; echo treats them as distinct routes.
func (s *Server) registerRoutes() {
	e := s.echo
	p := s.cfg.Prefix

	e.GET(p+"/health", s.healthHandler)
	e.GET(p+"/health/", s.healthHandler)

	e.POST(p+"/ingest/:source", s.ingestHandler)

	e.POST(p+"/subscriptions", s.createSubscriptionHandler)
	e.POST(p+"/subscriptions/", s.createSubscriptionHandler)
	e.GET(p+"/subscriptions", s.listSubscriptionsHandler)
	e.GET(p+"/subscriptions/", s.listSubscriptionsHandler)
	e.GET(p+"/subscriptions/:id", s.getSubscriptionHandler)
	e.PUT(p+"/subscriptions/:id", s.updateSubscriptionHandler)
	e.DELETE(p+"/subscriptions/:id", s.deleteSubscriptionHandler)
	e.GET(p+"/subscriptions/:id/events", s.listSubscriptionEventsHandler)

	e.GET(p+"/events", s.listEventsHandler)
	e.GET(p+"/events/", s.listEventsHandler)

	e.GET(p+"/schema", s.schemaHandler)
	e.GET(p+"/schema/", s.schemaHandler)

	e.GET(p+"/map/metrics", s.metricsHandler)
	e.GET(p+"/map/metrics/json", s.metricsJSONHandler)
}

// Handler exposes the routing tree for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
