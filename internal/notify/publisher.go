// Package notify provides an optional NATS JetStream publisher for sync
// engine lifecycle events (batch committed, reorg handled, gap detected),
// grounded on the polymarket indexer's internal/nats publisher, adapted from
// zerolog to this repository's zap-backed logger and from per-trade event
// payloads to block-sync lifecycle payloads.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chainindexor/blockindexer/internal/logger"
)

const (
	streamName            = "BLOCKINDEXER"
	streamCreateTimeout   = 10 * time.Second
	streamMaxAge          = 24 * time.Hour
	streamDuplicateWindow = 20 * time.Minute
)

// EventKind distinguishes the lifecycle event types a Publisher emits.
type EventKind string

const (
	EventBatchSynced  EventKind = "batch_synced"
	EventReorgHandled EventKind = "reorg_handled"
	EventGapDetected  EventKind = "gap_detected"
)

// Event is the JSON payload published for every lifecycle notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	ChainID   uint64    `json:"chain_id"`
	Height    uint64    `json:"height,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes sync engine lifecycle events to NATS JetStream with
// per-event deduplication.
type Publisher struct {
	js      jetstream.JetStream
	nc      *nats.Conn
	log     *logger.Logger
	subject string
}

// NewPublisher connects to natsURL, ensures the lifecycle-event stream
// exists, and returns a ready-to-use Publisher.
func NewPublisher(natsURL, subject string, log *logger.Logger) (*Publisher, error) {
	component := log.WithComponent("notify")

	nc, err := nats.Connect(natsURL,
		nats.Name("block-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				component.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			component.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	// Events are published to "<subject>.<kind>", so the stream binds every
	// subject below the configured prefix.
	streamSubjectPattern := subject + ".>"
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     streamMaxAge,
		Storage:    jetstream.FileStorage,
		Duplicates: streamDuplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	component.Infow("nats publisher initialized", "stream", streamName, "subjects", streamSubjectPattern)

	return &Publisher{js: js, nc: nc, log: component, subject: subject}, nil
}

// Publish sends a lifecycle event, deduplicated on (kind, chain_id, height).
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	subject := fmt.Sprintf("%s.%s", p.subject, ev.Kind)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%d-%d", ev.Kind, ev.ChainID, ev.Height)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		p.log.Errorw("failed to publish event", "subject", subject, "msg_id", msgID, "error", err)
		return fmt.Errorf("publish to NATS: %w", err)
	}

	p.log.Debugw("event published", "subject", subject, "kind", ev.Kind, "chain_id", ev.ChainID, "height", ev.Height)
	return nil
}

// Close closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.log.Info("nats publisher closed")
	}
}

// Healthy reports whether the NATS connection is currently connected.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
