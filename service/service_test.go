package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashleyhuxley/sonde-alert/aprs"
	"github.com/ashleyhuxley/sonde-alert/config"
	"github.com/ashleyhuxley/sonde-alert/dedup"
	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/outbox"
	"github.com/ashleyhuxley/sonde-alert/prediction"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Mode   outbox.Mode
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	handler func(chatID int64, text string)
}

func (f *fakeTransport) Name() string                  { return "fake-transport" }
func (f *fakeTransport) Start(context.Context) error   { return nil }
func (f *fakeTransport) Stop(time.Duration) error      { return nil }
func (f *fakeTransport) SetHandler(h func(int64, string)) {
	f.handler = h
}

func (f *fakeTransport) Send(chatID int64, text string, mode outbox.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID, text, mode})
	return nil
}

// inject simulates one inbound subscriber message.
func (f *fakeTransport) inject(chatID int64, text string) {
	f.handler(chatID, text)
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) lastMessage() sentMessage {
	msgs := f.messages()
	return msgs[len(msgs)-1]
}

type fakeSource struct {
	handler func(prediction.Prediction)
	stopErr error
}

func (f *fakeSource) Name() string                          { return "fake-source" }
func (f *fakeSource) Start(context.Context) error           { return nil }
func (f *fakeSource) Stop(time.Duration) error              { return f.stopErr }
func (f *fakeSource) SetHandler(h func(prediction.Prediction)) {
	f.handler = h
}

func (f *fakeSource) emit(p prediction.Prediction) {
	f.handler(p)
}

type fakePoller struct {
	mu      sync.Mutex
	batches [][]string
	result  []aprs.Message
	err     error
}

func (f *fakePoller) Poll(_ context.Context, callsigns []string) ([]aprs.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), callsigns...))
	return f.result, f.err
}

func (f *fakePoller) polledBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

type harness struct {
	svc       *Service
	transport *fakeTransport
	source    *fakeSource
	poller    *fakePoller
}

func newHarness(t *testing.T) *harness {
	return newTunedHarness(t, nil, nil)
}

// newTunedHarness adjusts the config before assembly and the service
// before start, for tests that need non-default intervals.
func newTunedHarness(t *testing.T, tuneCfg func(*config.Config), tuneSvc func(*Service)) *harness {
	t.Helper()

	cfg := &config.Config{
		Stream:   config.StreamConfig{Kind: config.StreamKindMQTT, MQTTURL: "ws://broker:9001"},
		Telegram: config.TelegramConfig{BotAPIKey: "test-token"},
		Aprs: config.AprsConfig{
			URL:                 "https://api.aprs.fi/api/get",
			APIKey:              "test-key",
			PollIntervalSeconds: 600,
		},
		ProfilePath:             filepath.Join(t.TempDir(), "profiles.json"),
		DeliveryIntervalSeconds: 60,
		DedupTTLHours:           72,
		MatcherWorkers:          2,
	}

	if tuneCfg != nil {
		tuneCfg(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(cfg, logger)
	require.NoError(t, err)

	h := &harness{
		svc:       svc,
		transport: &fakeTransport{},
		source:    &fakeSource{},
		poller:    &fakePoller{},
	}
	svc.transport = h.transport
	svc.source = h.source
	svc.poller = h.poller

	if tuneSvc != nil {
		tuneSvc(svc)
	}

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, svc.Stop(5 * time.Second))
	})
	return h
}

// onboard walks a subscriber through the full conversation.
func (h *harness) onboard(chatID int64, coords, rangeKm, callsign string) {
	h.transport.inject(chatID, "hello")
	h.transport.inject(chatID, coords)
	h.transport.inject(chatID, rangeKm)
	h.transport.inject(chatID, callsign)
}

func trackTo(serial string, lat, lon float64) prediction.Prediction {
	return prediction.Prediction{
		Serial: serial,
		Type:   "RS41",
		Data: []prediction.TrackPoint{
			{Time: 1717243200, Lat: lat + 0.5, Lon: lon, Alt: 15000},
			{Time: 1717250400, Lat: lat, Lon: lon, Alt: 50},
		},
	}
}

func (h *harness) waitProcessed(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.svc.pool.Stats().Processed >= n
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOnboardingCreatesProfile(t *testing.T) {
	h := newHarness(t)

	h.transport.inject(7, "hello")
	assert.Contains(t, h.transport.lastMessage().Text, "Welcome")

	h.transport.inject(7, "51.5, -0.1")
	assert.Contains(t, h.transport.lastMessage().Text, "radius")

	h.transport.inject(7, "50")
	h.transport.inject(7, "no")
	assert.True(t, h.svc.store.Has(7))

	activation := h.transport.lastMessage()
	assert.Contains(t, activation.Text, "50km")
	assert.Contains(t, activation.Text, "51.5000, -0.1000")
}

func TestNearbyLandingDeliversOneAlert(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "no")

	// ~1.3km from home: inside the 50km radius.
	h.source.emit(trackTo("V1000001", 51.51, -0.11))
	h.waitProcessed(t, 1)
	require.Equal(t, 1, h.svc.queue.Len())

	h.svc.deliverNext()
	alert := h.transport.lastMessage()
	assert.Equal(t, int64(42), alert.ChatID)
	assert.Equal(t, outbox.ModeHTML, alert.Mode)
	assert.Contains(t, alert.Text, "V1000001")

	// The identical event again: suppressed, nothing queued.
	h.source.emit(trackTo("V1000001", 51.51, -0.11))
	h.waitProcessed(t, 2)
	assert.Equal(t, 0, h.svc.queue.Len())
}

func TestFarLandingIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "no")

	h.source.emit(trackTo("V1000002", 40.0, 20.0))
	h.waitProcessed(t, 1)
	assert.Equal(t, 0, h.svc.queue.Len())
}

func TestStopRemovesProfile(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "no")
	require.True(t, h.svc.store.Has(42))

	h.transport.inject(42, "/stop")
	assert.False(t, h.svc.store.Has(42))

	// Landings no longer alert this chat.
	h.source.emit(trackTo("V1000003", 51.51, -0.11))
	h.waitProcessed(t, 1)
	assert.Equal(t, 0, h.svc.queue.Len())
}

func TestDeliverNextOnEmptyQueue(t *testing.T) {
	h := newHarness(t)
	h.svc.deliverNext()
	assert.Empty(t, h.transport.messages())
}

func TestDeliveryFailureDropsMessage(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "no")

	h.source.emit(trackTo("V1000004", 51.51, -0.11))
	h.waitProcessed(t, 1)
	require.Equal(t, 1, h.svc.queue.Len())

	h.transport.sendErr = errors.WrapTransient(assert.AnError, "telegram", "Send", "message delivery")
	h.svc.deliverNext()
	assert.Equal(t, 0, h.svc.queue.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.SendErrors))
}

func TestPollOnceSkipsWithoutCallsigns(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "no") // "no" leaves the callsign unset

	h.svc.pollOnce(context.Background())
	assert.Empty(t, h.poller.polledBatches())
}

func TestPollOnceRelaysMatchingMessage(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "M0XYZ")

	h.poller.result = []aprs.Message{
		{ID: "900", Source: "G4ABC", Destination: "M0XYZ", Text: "see you on 2m"},
	}
	h.svc.pollOnce(context.Background())

	require.Equal(t, [][]string{{"M0XYZ"}}, h.poller.polledBatches())
	require.Equal(t, 1, h.svc.queue.Len())

	h.svc.deliverNext()
	relay := h.transport.lastMessage()
	assert.Equal(t, int64(42), relay.ChatID)
	assert.Contains(t, relay.Text, "see you on 2m")

	// The same poll result next cycle is suppressed.
	h.svc.pollOnce(context.Background())
	assert.Equal(t, 0, h.svc.queue.Len())
}

func TestStopDowngradesTransientComponentErrors(t *testing.T) {
	h := newHarness(t)
	h.source.stopErr = errors.WrapTransient(assert.AnError, "natsstream", "Stop", "connection drain")

	// A drain that timed out is logged, not surfaced: shutdown stays
	// clean.
	assert.NoError(t, h.svc.Stop(time.Second))
}

func TestStopPropagatesNonTransientErrors(t *testing.T) {
	h := newHarness(t)
	h.source.stopErr = errors.WrapFatal(assert.AnError, "natsstream", "Stop", "connection teardown")

	require.Error(t, h.svc.Stop(time.Second))
	h.source.stopErr = nil
}

func TestPollOnceRecordsInvalidResponse(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "M0XYZ")

	h.poller.err = errors.WrapInvalid(assert.AnError, "aprs", "Poll", "response parse")
	h.svc.pollOnce(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.PollErrors))
	status, ok := h.svc.monitor.Get("aprs")
	require.True(t, ok)
	assert.False(t, status.Healthy)
}

func TestOnboardingRejectsNonFiniteCoordinates(t *testing.T) {
	h := newHarness(t)

	h.transport.inject(9, "hello")
	h.transport.inject(9, "nan,nan")
	assert.Contains(t, h.transport.lastMessage().Text, "Invalid GPS Coordinates")
	assert.False(t, h.svc.store.Has(9))
}

func TestPollOnceRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.onboard(42, "51.5, -0.1", "50", "M0XYZ")

	h.poller.err = errors.WrapTransient(assert.AnError, "aprs", "Poll", "http request")
	h.svc.pollOnce(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.PollErrors))
	status, ok := h.svc.monitor.Get("aprs")
	require.True(t, ok)
	assert.False(t, status.Healthy)
}

func TestSweepLoopEvictsExpiredRecords(t *testing.T) {
	h := newTunedHarness(t,
		// A negative TTL makes every landing record expire the instant
		// it is written, so the sweep has something to find.
		func(cfg *config.Config) { cfg.DedupTTLHours = -1 },
		func(svc *Service) { svc.sweepInterval = 10 * time.Millisecond })

	h.svc.cache.RecordSent(dedup.LandingKey(1, "V1000005"))
	require.Equal(t, 1, h.svc.cache.Size())

	require.Eventually(t, func() bool {
		return h.svc.cache.Size() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChunkCallsigns(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want []int
	}{
		{"single partial batch", 3, []int{3}},
		{"exact batch", 10, []int{10}},
		{"splits overflow", 23, []int{10, 10, 3}},
		{"one callsign", 1, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callsigns := make([]string, tt.in)
			batches := chunkCallsigns(callsigns, aprs.MaxCallsignsPerPoll)
			var got []int
			for _, b := range batches {
				got = append(got, len(b))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
