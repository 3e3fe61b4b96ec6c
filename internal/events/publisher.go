// Package events publishes resource lifecycle events over NATS so other
// systems can react to ingestion and removal without polling.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event kinds.
const (
	KindIngested = "ingested"
	KindRemoved  = "removed"
)

// Event is the JSON payload published on resource lifecycle changes.
type Event struct {
	URI       string    `json:"uri"`
	Workspace string    `json:"workspace"`
	Agent     string    `json:"agent,omitempty"`
	Layers    int       `json:"layers,omitempty"`
	Elapsed   int64     `json:"elapsed_ms,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher emits lifecycle events. A nil Publisher is a valid no-op, so
// callers never branch on whether NATS is configured.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger.Named("events")}
}

// Subject returns the subject for a workspace and event kind:
// strata.resource.<workspace>.<kind>.
func Subject(workspace, kind string) string {
	return fmt.Sprintf("strata.resource.%s.%s", workspace, kind)
}

// Publish emits one event. Publish failures are logged, not returned: a
// broken event bus must not fail ingestion.
func (p *Publisher) Publish(kind string, event Event) {
	if p == nil || p.nc == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshaling event", zap.Error(err))
		return
	}

	subject := Subject(event.Workspace, kind)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publishing event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close flushes and releases the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Flush()
	p.nc.Close()
}
