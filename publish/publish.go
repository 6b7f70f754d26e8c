// Package publish forwards watcher events and cycle snapshots to NATS.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
)

const source = "subreddit-watcher"

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// Message is the envelope sent on every subject.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload"`
}

// Publisher is a presenter that emits JSON messages on
// <subject>.events and <subject>.cycles.
type Publisher struct {
	conn    conn
	nc      *nats.Conn
	logger  *slog.Logger
	subject string
	now     func() time.Time
}

// Connect dials url and returns a publisher on subject.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(source),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS connection lost", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := newPublisher(nc, subject, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:    c,
		logger:  logger,
		subject: subject,
		now:     time.Now,
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("Failed to drain NATS connection", "error", err)
			p.nc.Close()
		}
	}
}

// Event publishes e on <subject>.events.
func (p *Publisher) Event(e watcher.Event) {
	p.publish(p.subject+".events", e)
}

// Cycle publishes s on <subject>.cycles.
func (p *Publisher) Cycle(s *watcher.Snapshot) {
	p.publish(p.subject+".cycles", s)
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(Message{
		Timestamp: p.now().UTC(),
		Source:    source,
		Payload:   payload,
	})
	if err != nil {
		p.logger.Error("Failed to encode NATS message", "subject", subject, "error", err)
		metrics.PublishedTotal.WithLabelValues(subject, "error").Inc()
		return
	}
	err = p.conn.Publish(subject, data)
	metrics.PublishedTotal.WithLabelValues(subject, metrics.Status(err)).Inc()
	if err != nil {
		p.logger.Warn("Failed to publish to NATS", "subject", subject, "error", err)
		return
	}
	p.logger.Debug("Published to NATS", "subject", subject, "bytes", len(data))
}
