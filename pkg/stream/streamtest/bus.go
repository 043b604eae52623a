// Package streamtest provides an in-memory stand-in for the JetStream bus
// used by component and end-to-end tests.
package streamtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/langhook/langhook/pkg/stream"
)

// Record is one published message retained for assertions.
type Record struct {
	Subject string
	Data    []byte
}

// Delivery is the outcome of handing one message to one consumer.
type Delivery struct {
	Consumer string
	Subject  string
	Err      error
}

// Bus is an in-memory pub/sub with real NATS subject matching. Publishing
// delivers synchronously, so a test can publish and assert immediately;
// handlers may publish further messages from inside their callback the way
// pipeline stages chain on the real bus.
type Bus struct {
	mu         sync.Mutex
	nextID     int
	consumers  map[int]*Consumer
	published  []Record
	deliveries []Delivery
}

var _ stream.Publisher = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{consumers: make(map[int]*Consumer)}
}

// Consumer is a registered subscriber; Stop unregisters it.
type Consumer struct {
	bus     *Bus
	id      int
	durable string
	filter  string
	handler stream.Handler
}

// Stop unregisters the consumer from the bus.
func (c *Consumer) Stop() {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	delete(c.bus.consumers, c.id)
}

// StartConsumer registers a handler for every subject matching filter.
func (b *Bus) StartConsumer(ctx context.Context, durable, filter string, handler stream.Handler) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("consumer %s requires a handler", durable)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &Consumer{bus: b, id: b.nextID, durable: durable, filter: filter, handler: handler}
	b.consumers[c.id] = c
	return c, nil
}

// Publish JSON-encodes v and synchronously delivers it to every matching
// consumer in registration order.
func (b *Bus) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", subject, err)
	}

	b.mu.Lock()
	b.published = append(b.published, Record{Subject: subject, Data: data})
	matching := make([]*Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		if stream.SubjectMatches(c.filter, subject) {
			matching = append(matching, c)
		}
	}
	b.mu.Unlock()

	sort.Slice(matching, func(i, j int) bool { return matching[i].id < matching[j].id })

	for _, c := range matching {
		err := c.handler(ctx, stream.Msg{Subject: subject, Data: data})
		b.mu.Lock()
		b.deliveries = append(b.deliveries, Delivery{Consumer: c.durable, Subject: subject, Err: err})
		b.mu.Unlock()
	}
	return nil
}

// Published returns a copy of every record published so far, filtered to
// subjects matching pattern. An empty pattern matches everything.
func (b *Bus) Published(pattern string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Record, 0, len(b.published))
	for _, r := range b.published {
		if pattern == "" || stream.SubjectMatches(pattern, r.Subject) {
			out = append(out, r)
		}
	}
	return out
}

// LastPublished returns the most recent record whose subject matches
// pattern, or false when none has.
func (b *Bus) LastPublished(pattern string) (Record, bool) {
	records := b.Published(pattern)
	if len(records) == 0 {
		return Record{}, false
	}
	return records[len(records)-1], true
}

// Deliveries returns a copy of every handler invocation outcome.
func (b *Bus) Deliveries() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivery(nil), b.deliveries...)
}
