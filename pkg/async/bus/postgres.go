package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresRelay bridges this process's in-memory Bus to Postgres's
// NOTIFY/LISTEN mechanism, so events published on one Orchestrator process
// reach every other process listening on the same channel — the in-memory
// Bus alone only fans out within a single process. It is the durable,
// cross-process companion to Bus, not a replacement for it: local
// Subscribers keep using Bus.Subscribe as before.
type PostgresRelay struct {
	db       *sql.DB
	listener *pq.Listener
	channel  string
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// relayedEvent is the envelope NOTIFY carries; Postgres payloads are capped
// at 8000 bytes so envelopes should stay small (topic/source plus a
// reference, not the full event body).
type relayedEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
	Source  string `json:"source"`
}

// NewPostgresRelay opens dsn and starts listening on channel. Close stops
// the listener and releases the connection.
func NewPostgresRelay(dsn, channel string, logger *zap.Logger) (*PostgresRelay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres relay listener error", zap.Error(err))
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		db.Close()
		return nil, err
	}

	return &PostgresRelay{
		db:       db,
		listener: listener,
		channel:  channel,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Notify publishes payload to every process listening on this relay's
// channel, via `SELECT pg_notify(...)`.
func (r *PostgresRelay) Notify(ctx context.Context, topic string, payload any, source string) error {
	data, err := json.Marshal(relayedEvent{Topic: topic, Payload: payload, Source: source})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", r.channel, string(data))
	return err
}

// Relay forwards every NOTIFY received on this relay's channel into b's
// local subscribers, until ctx is cancelled or Close is called. Run it in
// its own goroutine.
func (r *PostgresRelay) Relay(ctx context.Context, b *Bus) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-r.listener.Notify:
			if n == nil {
				continue // connection dropped; pq.Listener reconnects on its own
			}
			var ev relayedEvent
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				r.logger.Warn("postgres relay received malformed envelope", zap.Error(err))
				continue
			}
			b.Publish(ev.Topic, ev.Payload, ev.Source)
		case <-time.After(90 * time.Second):
			if err := r.listener.Ping(); err != nil {
				r.logger.Warn("postgres relay ping failed", zap.Error(err))
			}
		}
	}
}

// Close stops the relay goroutine (if Relay is running) and releases the
// listener and connection.
func (r *PostgresRelay) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	if err := r.listener.Close(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
