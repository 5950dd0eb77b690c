// Package natsstream feeds predictions from a NATS subject, for
// deployments where the SondeHub feed is republished onto an internal
// NATS cluster instead of consumed from the public broker directly.
package natsstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/pkg/retry"
	"github.com/ashleyhuxley/sonde-alert/prediction"
)

// Source is a NATS-backed prediction feed.
type Source struct {
	url     string
	subject string
	logger  *slog.Logger
	handler func(prediction.Prediction)
	dropped prometheus.Counter

	conn *nats.Conn
	sub  *nats.Subscription
}

// Option configures a Source.
type Option func(*Source)

// WithDropCounter counts payloads discarded as undecodable. A nil
// counter is ignored.
func WithDropCounter(c prometheus.Counter) Option {
	return func(s *Source) {
		s.dropped = c
	}
}

// New creates a source for the given server URL and subject.
func New(url, subject string, logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		url:     url,
		subject: subject,
		logger:  logger.With("component", "natsstream"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements component.Component.
func (s *Source) Name() string { return "natsstream" }

// SetHandler registers the prediction callback. Must be called before
// Start.
func (s *Source) SetHandler(h func(prediction.Prediction)) {
	s.handler = h
}

// Start connects, retrying with backoff, and subscribes to the subject.
func (s *Source) Start(ctx context.Context) error {
	if s.handler == nil {
		return errors.WrapFatal(fmt.Errorf("handler not set"), "natsstream", "Start", "startup")
	}

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		conn, err := nats.Connect(s.url,
			nats.Name("sondealert"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				s.logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				s.logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			// Only server availability is worth retrying; a malformed
			// URL or bad credentials will fail identically every time.
			if stderrors.Is(err, nats.ErrNoServers) || stderrors.Is(err, nats.ErrTimeout) {
				return err
			}
			return retry.Permanent(err)
		}
		s.conn = conn
		return nil
	})
	if err != nil {
		return errors.WrapFatal(err, "natsstream", "Start", "server connect")
	}

	sub, err := s.conn.Subscribe(s.subject, s.onMessage)
	if err != nil {
		s.conn.Close()
		return errors.WrapFatal(err, "natsstream", "Start", "subject subscribe")
	}
	s.sub = sub

	s.logger.Info("subscribed", "url", s.url, "subject", s.subject)
	return nil
}

// Stop drains the subscription and closes the connection.
func (s *Source) Stop(timeout time.Duration) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.FlushTimeout(timeout); err != nil {
		s.logger.Warn("flush before drain failed", "error", err)
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return errors.WrapTransient(err, "natsstream", "Stop", "connection drain")
	}
	return nil
}

func (s *Source) onMessage(msg *nats.Msg) {
	p, err := prediction.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable prediction", "subject", msg.Subject, "error", err)
		if s.dropped != nil {
			s.dropped.Inc()
		}
		return
	}
	s.handler(p)
}
