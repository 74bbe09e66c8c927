package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultSubjectPrefix = "holoctl.completion"

var ErrNATSClosed = errors.New("events: nats connection closed")

// NATSConfig configures the NATS completion publisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	ClientName    string
	Timeout       time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
	DrainTimeout  time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		SubjectPrefix: DefaultSubjectPrefix,
		ClientName:    "holoctl",
		Timeout:       5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		DrainTimeout:  5 * time.Second,
	}
}

// Subject returns the subject an event of kind is published on.
func Subject(prefix, kind string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + kind
}

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	drain  time.Duration
}

func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("events: nats url is required")
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("events: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("events: nats reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect %s: %w", cfg.URL, err)
	}
	log.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("events: nats connected")
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, drain: cfg.DrainTimeout}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev CompletionEvent) error {
	if p.conn == nil || p.conn.IsClosed() {
		return ErrNATSClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	subject := Subject(p.prefix, ev.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes, force closing after the drain timeout.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.conn.Drain() }()
	timeout := p.drain
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("events: nats drain timeout, force closing")
		p.conn.Close()
		return nil
	}
}
