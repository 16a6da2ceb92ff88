package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/orchestrator"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "remend", cfg.SubjectPrefix)

	custom := Config{URL: "nats://broker:4222", SubjectPrefix: "ci.remend"}
	custom.ApplyDefaults()
	assert.Equal(t, "nats://broker:4222", custom.URL)
	assert.Equal(t, "ci.remend", custom.SubjectPrefix)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{name: "default", prefix: "remend", wantErr: false},
		{name: "dotted", prefix: "ci.remend", wantErr: false},
		{name: "space", prefix: "re mend", wantErr: true},
		{name: "star wildcard", prefix: "remend.*", wantErr: true},
		{name: "gt wildcard", prefix: "remend.>", wantErr: true},
		{name: "leading dot", prefix: ".remend", wantErr: true},
		{name: "trailing dot", prefix: "remend.", wantErr: true},
		{name: "empty token", prefix: "ci..remend", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{URL: nats.DefaultURL, SubjectPrefix: tt.prefix}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublisher_PublishesRunEvent(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewPublisher(nc, "remend", zap.NewNop())

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("remend.runs.run-42.run_started", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sent := orchestrator.Event{
		Type:  orchestrator.EventRunStarted,
		RunID: "run-42",
		Time:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Total: 50,
	}
	p.Observer()(sent)

	select {
	case msg := <-ch:
		var got orchestrator.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, orchestrator.EventRunStarted, got.Type)
		assert.Equal(t, "run-42", got.RunID)
		assert.Equal(t, 50, got.Total)
		assert.True(t, got.Time.Equal(sent.Time))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run_started event")
	}

	assert.Equal(t, int64(1), p.Published())
	assert.Equal(t, int64(0), p.Dropped())
}

func TestPublisher_StreamsEventsInOrder(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewPublisher(nc, "remend", zap.NewNop())

	ch := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("remend.runs.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sequence := []orchestrator.EventType{
		orchestrator.EventRunStarted,
		orchestrator.EventPassStarted,
		orchestrator.EventIterationAccepted,
		orchestrator.EventRunFinished,
	}
	for _, typ := range sequence {
		p.Publish(orchestrator.Event{Type: typ, RunID: "run-7", Time: time.Now()})
	}

	for _, want := range sequence {
		select {
		case msg := <-ch:
			assert.Equal(t, "remend.runs.run-7."+string(want), msg.Subject)
			var got orchestrator.Event
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, want, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s event", want)
		}
	}

	assert.Equal(t, int64(4), p.Published())
}

func TestPublisher_MissingRunIDKeepsSubjectValid(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewPublisher(nc, "remend", zap.NewNop())

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("remend.runs.unknown.run_finished", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p.Publish(orchestrator.Event{Type: orchestrator.EventRunFinished, Time: time.Now()})

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event without run ID")
	}
}

func TestPublisher_DropsWhenConnectionClosed(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	p := NewPublisher(nc, "remend", zap.NewNop())
	p.Publish(orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "run-1", Time: time.Now()})

	assert.Equal(t, int64(0), p.Published())
	assert.Equal(t, int64(1), p.Dropped())
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher

	assert.NotPanics(t, func() {
		p.Publish(orchestrator.Event{Type: orchestrator.EventRunStarted})
		p.Observer()(orchestrator.Event{Type: orchestrator.EventPassStarted})
		_ = p.Flush()
		p.Close()
	})
	assert.Equal(t, int64(0), p.Published())
	assert.Equal(t, int64(0), p.Dropped())
}

func TestNewPublisher_DefaultsPrefix(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	require.NotNil(t, p)
	assert.Equal(t, "remend", p.prefix)
	assert.Equal(t, "remend.runs.run-1.pass_finished", p.subject(orchestrator.Event{
		Type:  orchestrator.EventPassFinished,
		RunID: "run-1",
	}))
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(Config{URL: server.ClientURL(), SubjectPrefix: "remend"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)

	p.Publish(orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "run-9", Time: time.Now()})
	require.NoError(t, p.Flush())
	assert.Equal(t, int64(1), p.Published())

	p.Close()
	assert.True(t, p.conn.IsClosed())
}

func TestConnect_RejectsBadPrefix(t *testing.T) {
	_, err := Connect(Config{URL: nats.DefaultURL, SubjectPrefix: "bad prefix"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid events config")
}
