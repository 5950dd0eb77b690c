// Package alert turns incoming events into queued notifications: the
// proximity matcher filters landing predictions by distance to each
// subscriber's home, and the relay matcher routes APRS messages to the
// subscriber owning the destination callsign.
package alert

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/ashleyhuxley/sonde-alert/aprs"
	"github.com/ashleyhuxley/sonde-alert/dedup"
	"github.com/ashleyhuxley/sonde-alert/outbox"
	"github.com/ashleyhuxley/sonde-alert/prediction"
	"github.com/ashleyhuxley/sonde-alert/profile"
)

const (
	sondeHubURLFormat = "http://sondehub.org/%s"
	mapsURLFormat     = "http://maps.google.com/maps?z=12&t=m&q=loc:%.4f+%.4f"
)

// DistanceKm returns the great-circle distance between two coordinates
// in kilometers, using the haversine formula on a spherical earth.
func DistanceKm(a, b profile.Coordinate) float64 {
	pa := orb.Point{a.Lon, a.Lat}
	pb := orb.Point{b.Lon, b.Lat}
	return geo.DistanceHaversine(pa, pb) / 1000.0
}

// Matcher evaluates events against the profile store and enqueues
// qualifying notifications, recording each send in the dedup cache.
type Matcher struct {
	store  *profile.Store
	cache  *dedup.Cache
	queue  *outbox.Queue
	logger *slog.Logger
}

// NewMatcher creates a matcher over the shared store, cache and queue.
func NewMatcher(store *profile.Store, cache *dedup.Cache, queue *outbox.Queue, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:  store,
		cache:  cache,
		queue:  queue,
		logger: logger.With("component", "matcher"),
	}
}

// MatchPrediction evaluates one landing prediction against every
// profile and returns how many alerts were enqueued. Matching is
// independent per profile; order is irrelevant.
func (m *Matcher) MatchPrediction(p prediction.Prediction) int {
	landing := p.LandingPoint()
	landingCoord := profile.Coordinate{Lat: landing.Lat, Lon: landing.Lon}

	enqueued := 0
	for _, prof := range m.store.All() {
		distance := DistanceKm(prof.Home, landingCoord)
		// NaN compares false against any radius, which would turn a
		// corrupt profile into a match-everything profile.
		if math.IsNaN(distance) || distance > prof.RangeKm {
			continue
		}

		key := dedup.LandingKey(prof.ChatID, p.Serial)
		if !m.cache.ShouldNotify(key) {
			continue
		}

		m.queue.Enqueue(outbox.Message{
			ChatID: prof.ChatID,
			Text:   formatLandingAlert(p.Serial, p.Type, landing),
			Mode:   outbox.ModeHTML,
		})
		m.cache.RecordSent(key)
		enqueued++

		m.logger.Info("landing alert enqueued",
			"serial", p.Serial,
			"chat_id", prof.ChatID,
			"distance_km", fmt.Sprintf("%.1f", distance))
	}
	return enqueued
}

// MatchRelays routes one poll batch of APRS messages and returns how
// many relays were enqueued. A message without a matching callsign, or
// already relayed, is skipped.
func (m *Matcher) MatchRelays(messages []aprs.Message) int {
	enqueued := 0
	for _, msg := range messages {
		prof, ok := m.store.FindByCallsign(msg.Destination)
		if !ok {
			continue
		}

		key := dedup.RelayKey(msg.Destination, msg.ID)
		if !m.cache.ShouldNotify(key) {
			continue
		}

		m.queue.Enqueue(outbox.Message{
			ChatID: prof.ChatID,
			Text:   formatRelay(msg),
			Mode:   outbox.ModeHTML,
		})
		m.cache.RecordSent(key)
		enqueued++

		m.logger.Info("aprs relay enqueued",
			"message_id", msg.ID,
			"callsign", msg.Destination,
			"chat_id", prof.ChatID)
	}
	return enqueued
}

func formatLandingAlert(serial, sondeType string, landing prediction.TrackPoint) string {
	return fmt.Sprintf(
		"<b>Nearby Sonde Landing Alert!</b>\n\n"+
			"Time: %s\nLocation: %.4f, %.4f\n\n"+
			"Serial: %s\nType: %s\n\n%s\n\n%s",
		landing.Timestamp().Format(time.RFC1123),
		landing.Lat, landing.Lon,
		serial, sondeType,
		fmt.Sprintf(sondeHubURLFormat, serial),
		fmt.Sprintf(mapsURLFormat, landing.Lat, landing.Lon),
	)
}

func formatRelay(msg aprs.Message) string {
	received := "unknown"
	if !msg.Received.IsZero() {
		received = msg.Received.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"<b>New APRS Message</b>\n\nFrom: %s\nTo: %s\n\n%s\n\nReceived: %s",
		msg.Source, msg.Destination, msg.Text, received,
	)
}
