package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Listener holds a dedicated PostgreSQL connection in LISTEN mode and
// invokes a callback for every subscription change broadcast on its
// channel. The connection is separate from the pool: LISTEN ties the
// subscription to one physical connection, which a pool would recycle.
type Listener struct {
	connString string
	channel    string
	handler    func(ChangeNotification)

	conn   *pgx.Conn
	connMu sync.Mutex

	// cancelLoop and loopDone coordinate graceful shutdown of the receive loop.
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a listener for the given NOTIFY channel. The
// handler is invoked from the receive goroutine and must not block.
func NewListener(connString, channel string, handler func(ChangeNotification)) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		connString: connString,
		channel:    channel,
		handler:    handler,
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving
// notifications.
func (l *Listener) Start(ctx context.Context) error {
	if l.handler == nil {
		return fmt.Errorf("listener requires a handler")
	}

	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if err := l.listenOn(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s failed: %w", l.channel, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	// Cancellable context so Stop() can signal the loop to exit before
	// closing the connection.
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("Subscription change listener started", "channel", l.channel)
	return nil
}

// receiveLoop blocks on the next notification and dispatches it. It is
// the sole goroutine that touches the pgx connection.
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Context cancelled — shutting down
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		var change ChangeNotification
		if err := json.Unmarshal([]byte(notification.Payload), &change); err != nil {
			// Malformed payloads are dropped; the router's periodic
			// reconcile pass covers whatever this notification carried.
			slog.Warn("Ignoring malformed change notification",
				"channel", notification.Channel, "error", err)
			continue
		}
		l.handler(change)
	}
}

// reconnect re-establishes the LISTEN connection with exponential backoff.
func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if err := l.listenOn(ctx, conn); err != nil {
			slog.Error("Re-LISTEN failed", "channel", l.channel, "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.conn = conn
		slog.Info("Subscription change listener reconnected", "channel", l.channel)
		return
	}
}

func (l *Listener) listenOn(ctx context.Context, conn *pgx.Conn) error {
	sanitized := pgx.Identifier{l.channel}.Sanitize()
	_, err := conn.Exec(ctx, "LISTEN "+sanitized)
	return err
}

// Stop signals the receive loop to exit, waits for it to finish, then
// closes the LISTEN connection.
func (l *Listener) Stop(ctx context.Context) {
	// Wait for the loop before closing the connection to avoid racing
	// WaitForNotification against conn.Close().
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
