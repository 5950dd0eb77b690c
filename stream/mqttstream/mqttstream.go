// Package mqttstream subscribes to SondeHub landing predictions over
// MQTT. The broker publishes one JSON document per prediction on
// prediction/<serial>; payloads that fail to decode are logged and
// dropped so a malformed publish never stalls the feed.
package mqttstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/pkg/retry"
	"github.com/ashleyhuxley/sonde-alert/prediction"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds, per paho convention
)

// Source is an MQTT-backed prediction feed.
type Source struct {
	url     string
	topic   string
	logger  *slog.Logger
	handler func(prediction.Prediction)
	dropped prometheus.Counter

	client mqtt.Client
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

// New creates a source for the given broker URL and topic filter.
func New(url, topic string, logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		url:    url,
		topic:  topic,
		logger: logger.With("component", "mqttstream"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements component.Component.
func (s *Source) Name() string { return "mqttstream" }

// SetHandler registers the prediction callback. Must be called before
// Start.
func (s *Source) SetHandler(h func(prediction.Prediction)) {
	s.handler = h
}

// Start connects to the broker, retrying with backoff, and subscribes.
// The subscription is re-established on every reconnect.
func (s *Source) Start(ctx context.Context) error {
	if s.handler == nil {
		return errors.WrapFatal(fmt.Errorf("handler not set"), "mqttstream", "Start", "startup")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.url).
		SetClientID(fmt.Sprintf("sondealert-%04x", rand.Intn(0x10000))).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("broker connection lost", "error", err)
		}).
		SetOnConnectHandler(func(client mqtt.Client) {
			token := client.Subscribe(s.topic, 0, s.onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("subscribe failed", "topic", s.topic, "error", err)
				return
			}
			s.logger.Info("subscribed", "topic", s.topic)
		})

	s.client = mqtt.NewClient(opts)

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		token := s.client.Connect()
		token.Wait()
		return token.Error()
	})
	if err != nil {
		return errors.WrapFatal(err, "mqttstream", "Start", "broker connect")
	}

	s.logger.Info("connected", "url", s.url)
	return nil
}

// Stop disconnects from the broker.
func (s *Source) Stop(_ time.Duration) error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	p, err := prediction.Decode(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping undecodable prediction", "topic", msg.Topic(), "error", err)
		if s.dropped != nil {
			s.dropped.Inc()
		}
		return
	}
	s.handler(p)
}
