package events

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/langhook/langhook/test/database"
	"github.com/langhook/langhook/test/util"
)

// changeRecorder collects notifications delivered to a listener handler.
type changeRecorder struct {
	mu      sync.Mutex
	changes []ChangeNotification
}

func (r *changeRecorder) record(change ChangeNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *changeRecorder) snapshot() []ChangeNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeNotification(nil), r.changes...)
}

// testChannel returns a channel name unique to this test run. NOTIFY
// channels are database-global, so tests sharing the container database
// must not reuse names.
func testChannel() string {
	return "test_changes_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func TestListener_ReceivesPublishedChanges(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	channel := testChannel()

	recorder := &changeRecorder{}
	listener := NewListener(util.GetBaseConnectionString(t), channel, recorder.record)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	time.Sleep(100 * time.Millisecond) // Let LISTEN propagate

	publisher := NewPublisher(client.DB(), channel)
	require.NoError(t, publisher.NotifyCreated(ctx, 42, "default"))
	require.NoError(t, publisher.NotifyUpdated(ctx, 42, "default"))
	require.NoError(t, publisher.NotifyDeleted(ctx, 42, "default"))

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 3
	}, 5*time.Second, 50*time.Millisecond)

	changes := recorder.snapshot()
	assert.Equal(t, ChangeCreated, changes[0].Type)
	assert.Equal(t, ChangeUpdated, changes[1].Type)
	assert.Equal(t, ChangeDeleted, changes[2].Type)
	for _, change := range changes {
		assert.Equal(t, int64(42), change.SubscriptionID)
		assert.Equal(t, "default", change.SubscriberID)
		assert.False(t, change.At.IsZero())
	}
}

func TestListener_IgnoresMalformedPayloads(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	channel := testChannel()

	recorder := &changeRecorder{}
	listener := NewListener(util.GetBaseConnectionString(t), channel, recorder.record)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	time.Sleep(100 * time.Millisecond)

	_, err := client.DB().ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, "not json at all")
	require.NoError(t, err)

	publisher := NewPublisher(client.DB(), channel)
	require.NoError(t, publisher.NotifyCreated(ctx, 7, "default"))

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	changes := recorder.snapshot()
	assert.Equal(t, ChangeCreated, changes[0].Type)
	assert.Equal(t, int64(7), changes[0].SubscriptionID)
}

func TestListener_ScopedToItsChannel(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	mine, theirs := testChannel(), testChannel()

	recorder := &changeRecorder{}
	listener := NewListener(util.GetBaseConnectionString(t), mine, recorder.record)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, NewPublisher(client.DB(), theirs).NotifyCreated(ctx, 1, "default"))
	require.NoError(t, NewPublisher(client.DB(), mine).NotifyCreated(ctx, 2, "default"))

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	changes := recorder.snapshot()
	assert.Equal(t, int64(2), changes[0].SubscriptionID)
}

func TestListener_StopHaltsDelivery(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	channel := testChannel()

	recorder := &changeRecorder{}
	listener := NewListener(util.GetBaseConnectionString(t), channel, recorder.record)
	require.NoError(t, listener.Start(ctx))

	time.Sleep(100 * time.Millisecond)
	listener.Stop(ctx)

	publisher := NewPublisher(client.DB(), channel)
	require.NoError(t, publisher.NotifyCreated(ctx, 99, "default"))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, recorder.snapshot())
}

func TestListener_RequiresHandler(t *testing.T) {
	listener := NewListener("postgres://ignored", testChannel(), nil)
	err := listener.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler")
}

func TestDefaultChannelFallback(t *testing.T) {
	publisher := NewPublisher(nil, "")
	assert.Equal(t, DefaultChannel, publisher.channel)

	listener := NewListener("postgres://ignored", "", func(ChangeNotification) {})
	assert.Equal(t, DefaultChannel, listener.channel)
}
