package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/langhook/langhook/pkg/events"
	"github.com/langhook/langhook/pkg/gate"
	"github.com/langhook/langhook/pkg/models"
	"github.com/langhook/langhook/pkg/services"
	"github.com/langhook/langhook/pkg/stream"
)

const (
	defaultReconcileInterval = 30 * time.Second
	changeTimeout            = 10 * time.Second
)

// RunningConsumer is a started subscription consumer. Stop halts it and
// waits for in-flight handling to finish.
type RunningConsumer interface {
	Stop()
}

// StartConsumerFunc binds a durable pull consumer on the canonical
// events stream and begins handling messages.
type StartConsumerFunc func(ctx context.Context, durable, filter string, handler stream.Handler) (RunningConsumer, error)

// StreamStarter returns a StartConsumerFunc backed by JetStream pull
// consumers on the named stream.
func StreamStarter(url, streamName string) StartConsumerFunc {
	return func(ctx context.Context, durable, filter string, handler stream.Handler) (RunningConsumer, error) {
		consumer := stream.NewConsumer(stream.ConsumerConfig{
			URL:           url,
			Stream:        streamName,
			Durable:       durable,
			FilterSubject: filter,
		}, handler)
		if err := consumer.Start(ctx); err != nil {
			return nil, err
		}
		return consumer, nil
	}
}

// Config holds supervisor tuning knobs.
type Config struct {
	// ReconcileInterval is how often the running consumer set is
	// reconciled against the subscription store. Zero means the default.
	ReconcileInterval time.Duration
}

type runningEntry struct {
	handle    RunningConsumer
	pattern   string
	updatedAt time.Time
}

// Supervisor keeps one running consumer per routable subscription. API
// mutations are applied synchronously via Add, Update and Remove;
// changes made by other processes arrive through HandleChange and the
// periodic reconcile sweep.
//
// Consumers run on the supervisor's own context, not the caller's: Add
// is invoked with request-scoped contexts that end the moment the HTTP
// handler returns, and a consumer must outlive that. Only Stop ends
// consumer lifetimes.
type Supervisor struct {
	subs      *services.SubscriptionService
	eventLogs *services.EventLogService
	gate      *gate.Evaluator
	deliverer *Deliverer
	start     StartConsumerFunc
	interval  time.Duration

	mu        sync.Mutex
	consumers map[int64]*runningEntry

	runCtx    context.Context
	runCancel context.CancelFunc
	loopDone  chan struct{}
}

// NewSupervisor creates a supervisor over the given subscription store.
func NewSupervisor(subs *services.SubscriptionService, eventLogs *services.EventLogService, gateEval *gate.Evaluator, deliverer *Deliverer, start StartConsumerFunc, cfg Config) *Supervisor {
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Supervisor{
		subs:      subs,
		eventLogs: eventLogs,
		gate:      gateEval,
		deliverer: deliverer,
		start:     start,
		interval:  interval,
		consumers: make(map[int64]*runningEntry),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Start performs the initial reload and begins the periodic reconcile
// loop.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.loopDone = make(chan struct{})
	go s.reconcileLoop(s.runCtx)

	slog.Info("Subscription router started", "consumers", s.Count(), "reconcile_interval", s.interval)
	return nil
}

// Stop halts the reconcile loop and every running consumer.
func (s *Supervisor) Stop() {
	s.runCancel()
	if s.loopDone != nil {
		<-s.loopDone
		s.loopDone = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.consumers {
		entry.handle.Stop()
		delete(s.consumers, id)
	}
	slog.Info("Subscription router stopped")
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				slog.Warn("Subscription reconcile failed", "error", err)
			}
		}
	}
}

// Add starts a consumer for the subscription, replacing any consumer
// already running for it. Subscriptions that are inactive or already
// used up are not started. ctx bounds the call itself; the consumer's
// lifetime is the supervisor's.
func (s *Supervisor) Add(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(sub.ID)
	if !sub.Routable() {
		return nil
	}
	return s.startLocked(sub)
}

// Update applies a changed subscription. The old consumer is stopped
// and a fresh one started because the subject filter or gate may have
// changed.
func (s *Supervisor) Update(ctx context.Context, sub *models.Subscription) error {
	return s.Add(ctx, sub)
}

// Remove stops the consumer for the subscription, if one is running.
func (s *Supervisor) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked(id) {
		slog.Info("Subscription consumer stopped", "subscription_id", id)
	}
}

// Reload reconciles the running consumer set against the store's
// current routable subscriptions: orphaned consumers are stopped,
// missing ones started and stale ones restarted.
func (s *Supervisor) Reload(ctx context.Context) error {
	routable, err := s.subs.ListRoutable(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routable subscriptions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[int64]*models.Subscription, len(routable))
	for _, sub := range routable {
		desired[sub.ID] = sub
	}

	for id, entry := range s.consumers {
		sub, ok := desired[id]
		if ok && entry.pattern == sub.Pattern && entry.updatedAt.Equal(subUpdatedAt(sub)) {
			// Still current, leave it running.
			delete(desired, id)
			continue
		}
		s.stopLocked(id)
	}

	for _, sub := range desired {
		if err := s.startLocked(sub); err != nil {
			slog.Error("Failed to start subscription consumer", "subscription_id", sub.ID, "error", err)
		}
	}
	return nil
}

// HandleChange reacts to a subscription change notification from
// another process. The notification only names the row; the current
// state is re-read from the store.
func (s *Supervisor) HandleChange(change events.ChangeNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), changeTimeout)
	defer cancel()

	if change.Type == events.ChangeDeleted {
		s.Remove(change.SubscriptionID)
		return
	}

	if change.SubscriberID == "" {
		if err := s.Reload(ctx); err != nil {
			slog.Warn("Subscription reconcile failed", "error", err)
		}
		return
	}

	sub, err := s.subs.Get(ctx, change.SubscriberID, change.SubscriptionID)
	if errors.Is(err, services.ErrNotFound) {
		s.Remove(change.SubscriptionID)
		return
	}
	if err != nil {
		slog.Warn("Failed to load changed subscription, reconciling instead",
			"subscription_id", change.SubscriptionID, "error", err)
		if err := s.Reload(ctx); err != nil {
			slog.Warn("Subscription reconcile failed", "error", err)
		}
		return
	}

	if err := s.Add(ctx, sub); err != nil {
		slog.Error("Failed to apply subscription change", "subscription_id", change.SubscriptionID, "error", err)
	}
}

// Count returns the number of running consumers.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// Running returns the subscription IDs with a running consumer, sorted.
func (s *Supervisor) Running() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.consumers))
	for id := range s.consumers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Supervisor) startLocked(sub *models.Subscription) error {
	snapshot := *sub
	handler := func(ctx context.Context, msg stream.Msg) error {
		return s.handleEvent(ctx, &snapshot, msg)
	}

	handle, err := s.start(s.runCtx, durableName(sub.ID), sub.Pattern, handler)
	if err != nil {
		return fmt.Errorf("failed to start consumer for subscription %d: %w", sub.ID, err)
	}

	s.consumers[sub.ID] = &runningEntry{
		handle:    handle,
		pattern:   sub.Pattern,
		updatedAt: subUpdatedAt(sub),
	}
	slog.Info("Subscription consumer started",
		"subscription_id", sub.ID, "durable", durableName(sub.ID), "pattern", sub.Pattern)
	return nil
}

func (s *Supervisor) stopLocked(id int64) bool {
	entry, ok := s.consumers[id]
	if !ok {
		return false
	}
	entry.handle.Stop()
	delete(s.consumers, id)
	return true
}

func durableName(id int64) string {
	return fmt.Sprintf("sub_%d", id)
}

func subUpdatedAt(sub *models.Subscription) time.Time {
	if sub.UpdatedAt == nil {
		return time.Time{}
	}
	return *sub.UpdatedAt
}
