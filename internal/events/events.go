// Package events publishes run lifecycle events to NATS.
//
// Every orchestrator event is serialized to JSON and published to a
// subject of the form
//
//	{prefix}.runs.{run_id}.{type}
//
// for example "remend.runs.5f3a90c2-....run_started". Consumers subscribe
// with wildcards ("remend.runs.>" for everything, "remend.runs.*.run_finished"
// for completions only).
//
// Publishing is fire and forget: a failed publish is logged and counted,
// never surfaced to the run loop. A nil *Publisher is a safe no-op, so
// callers construct one only when event publishing is enabled.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/orchestrator"
)

// DefaultSubjectPrefix is the leading subject token when none is configured.
const DefaultSubjectPrefix = "remend"

// Config holds the NATS connection settings for event publishing.
type Config struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
}

// Validate checks that the subject prefix is a publishable NATS subject.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.SubjectPrefix, " \t*>") {
		return fmt.Errorf("subject prefix %q contains whitespace or wildcard tokens", c.SubjectPrefix)
	}
	if strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") || strings.Contains(c.SubjectPrefix, "..") {
		return fmt.Errorf("subject prefix %q has an empty token", c.SubjectPrefix)
	}
	return nil
}

// Publisher forwards orchestrator events to a NATS connection.
type Publisher struct {
	conn     *nats.Conn
	ownsConn bool
	prefix   string
	logger   *zap.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// Connect dials NATS and returns a publisher that owns the connection.
// The connection retries in the background, so a broker outage delays
// events instead of failing the run.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid events config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("remend"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.ownsConn = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership
// of the connection and closes it after the publisher.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		conn:   nc,
		prefix: prefix,
		logger: logger,
	}
}

// Observer returns a callback suitable for Service.OnEvent. The callback
// runs inline on the orchestration goroutine; nats.Publish only writes to
// the client buffer, so it returns without waiting on the broker.
func (p *Publisher) Observer() orchestrator.Observer {
	return func(e orchestrator.Event) {
		p.Publish(e)
	}
}

// Publish sends one event. Failures are logged and dropped.
func (p *Publisher) Publish(e orchestrator.Event) {
	if p == nil || p.conn == nil {
		return
	}

	subject := p.subject(e)
	data, err := json.Marshal(e)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("dropped run event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.dropped.Add(1)
		p.logger.Warn("dropped run event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	p.published.Add(1)
}

// subject builds the per-event subject. An empty run ID would produce an
// empty subject token, which NATS rejects, so it is replaced.
func (p *Publisher) subject(e orchestrator.Event) string {
	runID := e.RunID
	if runID == "" {
		runID = "unknown"
	}
	return fmt.Sprintf("%s.runs.%s.%s", p.prefix, runID, e.Type)
}

// Published reports how many events reached the client buffer.
func (p *Publisher) Published() int64 {
	if p == nil {
		return 0
	}
	return p.published.Load()
}

// Dropped reports how many events were discarded.
func (p *Publisher) Dropped() int64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Flush blocks until the broker has processed everything published so far.
func (p *Publisher) Flush() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Flush()
}

// Close flushes the client buffer and, when the publisher owns the
// connection, closes it. The process exits right after a run ends, so
// without the flush the tail of the event stream would still be sitting
// in the async publish buffer.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Flush(); err != nil && !p.conn.IsClosed() {
		p.logger.Warn("flush NATS publish buffer", zap.Error(err))
	}
	if p.ownsConn {
		p.conn.Close()
	}
}
