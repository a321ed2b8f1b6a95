package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/config"
)

// Task 是发给 platform-sync worker 的一条同步任务。
// The consuming worker calls the marketplace's price-update API and writes
// the delivery outcome back onto the corresponding price change log row.
type Task struct {
	ListingID string          `json:"listing_id"`
	NewPrice  decimal.Decimal `json:"new_price"`
}

// Dispatcher enqueues one sync task per committed price change.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
	Close()
}

// NATSDispatcher publishes tasks onto a durable JetStream stream, so tasks
// survive until the sync worker consumes them.
type NATSDispatcher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  zerolog.Logger
}

// NewNATSDispatcher connects to NATS and ensures the sync stream exists.
func NewNATSDispatcher(cfg config.QueueConfig, logger zerolog.Logger) (*NATSDispatcher, error) {
	log := logger.With().Str("component", "dispatcher").Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats connection lost")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Subjects:    []string{cfg.Subject + ".>"},
		Description: "price sync tasks for the platform-sync worker",
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	return &NATSDispatcher{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		logger:  log,
	}, nil
}

// Dispatch publishes one task. Delivery is at-least-once; the caller never
// rolls back a committed price change when this fails.
func (d *NATSDispatcher) Dispatch(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal sync task: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", d.subject, task.ListingID)
	if _, err := d.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish sync task: %w", err)
	}

	d.logger.Debug().Str("listing_id", task.ListingID).
		Str("new_price", task.NewPrice.String()).
		Msg("sync task enqueued")
	return nil
}

// Close releases the NATS connection.
func (d *NATSDispatcher) Close() {
	if d == nil || d.conn == nil {
		return
	}
	d.conn.Close()
}

// NopDispatcher drops tasks. Used when the queue is disabled in config.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(ctx context.Context, task Task) error { return nil }
func (NopDispatcher) Close()                                        {}

var (
	_ Dispatcher = (*NATSDispatcher)(nil)
	_ Dispatcher = NopDispatcher{}
)
