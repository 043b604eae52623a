// Package e2e exercises the full pipeline — HTTP ingest, the
// canonicaliser, the subscription router, and webhook delivery —
// against containerised PostgreSQL with an in-memory stream bus and a
// scripted chat model.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/langhook/langhook/pkg/api"
	"github.com/langhook/langhook/pkg/config"
	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/gate"
	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/mapper"
	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/models"
	"github.com/langhook/langhook/pkg/nlp"
	"github.com/langhook/langhook/pkg/router"
	"github.com/langhook/langhook/pkg/services"
	"github.com/langhook/langhook/pkg/stream"
	"github.com/langhook/langhook/pkg/stream/streamtest"
	testdb "github.com/langhook/langhook/test/database"
)

// Harness is one fully wired LangHook process with its stream bus and
// chat model replaced by test doubles. The bus delivers synchronously,
// so a returned HTTP ingest call means the whole pipeline has run.
type Harness struct {
	t *testing.T

	DB    *database.Client
	Bus   *streamtest.Bus
	Model llm.ChatModel

	Metrics       *metrics.Metrics
	Subscriptions *services.SubscriptionService
	EventLogs     *services.EventLogService
	Schemas       *services.SchemaRegistryService
	Mappings      *services.IngestMappingService
	Supervisor    *router.Supervisor

	server *api.Server
}

// newHarness wires the pipeline around the given chat model. Consumers
// are registered on the in-memory bus exactly as main registers them on
// JetStream: the canonicaliser on the raw filter, one router consumer
// per routable subscription.
func newHarness(t *testing.T, model llm.ChatModel) *Harness {
	t.Helper()
	ctx := context.Background()

	db := testdb.NewTestClient(t)
	bus := streamtest.New()
	m := metrics.New()

	subscriptions := services.NewSubscriptionService(db)
	eventLogs := services.NewEventLogService(db)
	schemas := services.NewSchemaRegistryService(db)
	mappings := services.NewIngestMappingService(db)

	canonicaliser := mapper.NewCanonicaliser(mappings, schemas, eventLogs, model, bus, m)
	rawConsumer, err := bus.StartConsumer(ctx, "canonicaliser", stream.RawConsumerFilter, canonicaliser.HandleRawEvent)
	require.NoError(t, err)
	t.Cleanup(rawConsumer.Stop)

	start := func(ctx context.Context, durable, filter string, handler stream.Handler) (router.RunningConsumer, error) {
		return bus.StartConsumer(ctx, durable, filter, handler)
	}
	supervisor := router.NewSupervisor(
		subscriptions, eventLogs,
		gate.NewEvaluator(model, m),
		router.NewDeliverer(5*time.Second, m),
		start,
		router.Config{ReconcileInterval: time.Hour},
	)
	require.NoError(t, supervisor.Start(ctx))
	t.Cleanup(supervisor.Stop)

	server := api.NewServer(
		config.ServerConfig{Port: "0", MaxBodyBytes: 1 << 20},
		db, subscriptions, eventLogs, schemas,
		nlp.NewCompiler(model, schemas),
		supervisor, bus,
	)
	server.SetMetrics(m)
	server.SetChatModel(model)

	return &Harness{
		t:             t,
		DB:            db,
		Bus:           bus,
		Model:         model,
		Metrics:       m,
		Subscriptions: subscriptions,
		EventLogs:     eventLogs,
		Schemas:       schemas,
		Mappings:      mappings,
		Supervisor:    supervisor,
		server:        server,
	}
}

// Do runs one HTTP request through the API routing tree.
func (h *Harness) Do(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// Ingest posts one webhook body and returns the recorder. By the time
// this returns the raw event has been canonicalised (or dead-lettered).
func (h *Harness) Ingest(source, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.Do(http.MethodPost, "/ingest/"+source, body)
}

// CreateSubscription posts one subscription create request and returns
// the recorder plus the decoded subscription on 201.
func (h *Harness) CreateSubscription(body string) (*httptest.ResponseRecorder, *models.Subscription) {
	h.t.Helper()
	rec := h.Do(http.MethodPost, "/subscriptions/", body)
	if rec.Code != http.StatusCreated {
		return rec, nil
	}
	var sub models.Subscription
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &sub))
	return rec, &sub
}

// PublishEnvelope places a canonical delivery envelope directly on the
// events stream, as the canonicaliser of another process would.
func (h *Harness) PublishEnvelope(subject string, envelope *models.Envelope) {
	h.t.Helper()
	require.NoError(h.t, h.Bus.Publish(context.Background(), subject, envelope))
}

// LastEnvelope decodes the most recent envelope published on a subject
// matching pattern.
func (h *Harness) LastEnvelope(pattern string) (*models.Envelope, string) {
	h.t.Helper()
	record, ok := h.Bus.LastPublished(pattern)
	require.True(h.t, ok, "no envelope published on %s", pattern)
	var envelope models.Envelope
	require.NoError(h.t, json.Unmarshal(record.Data, &envelope))
	return &envelope, record.Subject
}

// WebhookCapture records webhook deliveries made by the router.
type WebhookCapture struct {
	mu       sync.Mutex
	status   int
	requests []CapturedDelivery
}

// CapturedDelivery is one webhook POST received by the capture server.
type CapturedDelivery struct {
	Method  string
	Headers http.Header
	Body    []byte
}

// newWebhookCapture starts an HTTP server answering every request with
// status and recording it. The server stops with the test.
func newWebhookCapture(t *testing.T, status int) (*WebhookCapture, string) {
	t.Helper()
	capture := &WebhookCapture{status: status}
	server := httptest.NewServer(capture)
	t.Cleanup(server.Close)
	return capture, server.URL
}

func (w *WebhookCapture) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	w.requests = append(w.requests, CapturedDelivery{
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	w.mu.Unlock()
	rw.WriteHeader(w.status)
}

// Deliveries returns a copy of every captured webhook request.
func (w *WebhookCapture) Deliveries() []CapturedDelivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]CapturedDelivery(nil), w.requests...)
}

// Count returns how many webhook requests were captured.
func (w *WebhookCapture) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}
