// Package stream selects and constructs the prediction source feeding
// the matcher: an MQTT subscription against the SondeHub broker, or a
// NATS subscription when predictions are republished internally.
package stream

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashleyhuxley/sonde-alert/component"
	"github.com/ashleyhuxley/sonde-alert/config"
	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/prediction"
	"github.com/ashleyhuxley/sonde-alert/stream/mqttstream"
	"github.com/ashleyhuxley/sonde-alert/stream/natsstream"
)

// Handler receives each decoded prediction from a source.
type Handler = func(prediction.Prediction)

// Source is a running prediction feed. SetHandler must be called before
// Start; sources drop undecodable payloads after logging them.
type Source interface {
	component.Component
	SetHandler(h func(prediction.Prediction))
}

// New builds the source selected by cfg.Kind. dropped counts payloads
// discarded as undecodable and may be nil.
func New(cfg config.StreamConfig, logger *slog.Logger, dropped prometheus.Counter) (Source, error) {
	switch cfg.Kind {
	case config.StreamKindMQTT:
		return mqttstream.New(cfg.MQTTURL, cfg.MQTTTopic, logger,
			mqttstream.WithDropCounter(dropped)), nil
	case config.StreamKindNATS:
		return natsstream.New(cfg.NATSURL, cfg.NATSSubject, logger,
			natsstream.WithDropCounter(dropped)), nil
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: unknown stream kind %q", errors.ErrInvalidConfig, cfg.Kind),
			"stream", "New", "source selection")
	}
}
