package withdrawald

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"creditchain/core/types"
	"creditchain/observability"
)

// EventSink receives lifecycle events once their block has committed.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, evt *types.Event) error
}

// NATSPublisher writes lifecycle events to a JetStream stream.
type NATSPublisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	stream  string
	logger  *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("nats url required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")
	conn, err := nats.Connect(url,
		nats.Name("withdrawald"),
		nats.Timeout(cfg.Timeout.Duration),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	publisher := &NATSPublisher{conn: conn, js: js, subject: cfg.Subject, stream: cfg.Stream, logger: logger}
	if err := publisher.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return publisher, nil
}

func (p *NATSPublisher) ensureStream() error {
	if _, err := p.js.StreamInfo(p.stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", p.stream, err)
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.subject + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Storage:    nats.FileStorage,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", p.stream, err)
	}
	p.logger.Info("jetstream stream created", "stream", p.stream)
	return nil
}

// Name implements EventSink.
func (p *NATSPublisher) Name() string { return "nats" }

// Publish implements EventSink. The message id deduplicates replays of the
// same transition.
func (p *NATSPublisher) Publish(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subjectFor(p.subject, evt.Type), data, nats.Context(ctx), nats.MsgId(messageID(evt)))
	if err != nil {
		observability.Events().RecordDropped(p.Name())
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	observability.Events().RecordPublished(p.Name(), evt.Type)
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

func subjectFor(prefix, eventType string) string {
	suffix := strings.TrimSpace(eventType)
	if suffix == "" {
		suffix = "unknown"
	}
	return strings.TrimSuffix(prefix, ".") + "." + suffix
}

func messageID(evt *types.Event) string {
	return strings.Join([]string{
		evt.Type,
		evt.Attributes["id"],
		evt.Attributes["height"],
		evt.Attributes["attempts"],
	}, ":")
}
