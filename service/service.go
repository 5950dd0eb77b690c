// Package service assembles and runs the SondeAlert pipeline: the
// prediction stream feeds a bounded matcher pool, the APRS poller and
// delivery loop run on fixed tickers, and inbound Telegram messages
// drive the per-subscriber conversation flows.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashleyhuxley/sonde-alert/alert"
	"github.com/ashleyhuxley/sonde-alert/aprs"
	"github.com/ashleyhuxley/sonde-alert/component"
	"github.com/ashleyhuxley/sonde-alert/config"
	"github.com/ashleyhuxley/sonde-alert/conversation"
	"github.com/ashleyhuxley/sonde-alert/dedup"
	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/health"
	"github.com/ashleyhuxley/sonde-alert/metric"
	"github.com/ashleyhuxley/sonde-alert/outbox"
	"github.com/ashleyhuxley/sonde-alert/pkg/worker"
	"github.com/ashleyhuxley/sonde-alert/prediction"
	"github.com/ashleyhuxley/sonde-alert/profile"
	"github.com/ashleyhuxley/sonde-alert/stream"
	"github.com/ashleyhuxley/sonde-alert/telegram"
)

// dedupSweepInterval is how often expired dedup records are evicted.
// Lazy expiry on check handles live serials; the sweep reclaims records
// for serials that are never looked up again.
const dedupSweepInterval = time.Hour

// Transport is the outbound messaging surface the service needs.
type Transport interface {
	component.Component
	SetHandler(h func(chatID int64, text string))
	Send(chatID int64, text string, mode outbox.Mode) error
}

// Poller fetches APRS messages for a batch of callsigns.
type Poller interface {
	Poll(ctx context.Context, callsigns []string) ([]aprs.Message, error)
}

// Service owns the pipeline components and their start order.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *profile.Store
	cache     *dedup.Cache
	queue     *outbox.Queue
	matcher   *alert.Matcher
	conv      *conversation.Manager
	pool      *worker.Pool[prediction.Prediction]
	source    stream.Source
	transport Transport
	poller    Poller

	metrics   *metric.Metrics
	monitor   *health.Monitor
	metricSrv *metric.Server

	deliveryInterval time.Duration
	pollInterval     time.Duration
	sweepInterval    time.Duration

	cancelLoops context.CancelFunc
	loops       sync.WaitGroup
}

// New wires a service from configuration. Nothing is connected until
// Start.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	s := &Service{
		cfg:              cfg,
		logger:           logger.With("component", "service"),
		store:            profile.NewStore(cfg.ProfilePath, logger),
		cache:            dedup.NewCache(time.Duration(cfg.DedupTTLHours) * time.Hour),
		queue:            outbox.NewQueue(),
		metrics:          metric.New(),
		monitor:          health.NewMonitor(),
		deliveryInterval: time.Duration(cfg.DeliveryIntervalSeconds) * time.Second,
		pollInterval:     time.Duration(cfg.Aprs.PollIntervalSeconds) * time.Second,
		sweepInterval:    dedupSweepInterval,
	}

	s.matcher = alert.NewMatcher(s.store, s.cache, s.queue, logger)
	s.conv = conversation.NewManager(s.store, logger)
	s.pool = worker.NewPool(cfg.MatcherWorkers, 0, s.matchPrediction,
		worker.WithMetrics[prediction.Prediction](&worker.Metrics{
			Submitted: s.metrics.MatcherSubmitted,
			Processed: s.metrics.MatcherProcessed,
			Failed:    s.metrics.MatcherFailed,
			Dropped:   s.metrics.MatcherDropped,
		}))

	source, err := stream.New(cfg.Stream, logger, s.metrics.PredictionsDropped)
	if err != nil {
		return nil, err
	}
	s.source = source
	s.transport = telegram.New(cfg.Telegram.BotAPIKey, logger)

	if cfg.RelayEnabled() {
		s.poller = aprs.NewClient(cfg.Aprs.URL, cfg.Aprs.APIKey, nil)
	}
	if cfg.MetricsAddr != "" {
		s.metricSrv = metric.NewServer(cfg.MetricsAddr, s.metrics, s.monitor, logger)
	}

	return s, nil
}

// Name implements component.Component.
func (s *Service) Name() string { return "sondealert" }

// Start brings the pipeline up: profiles, metrics server, matcher pool,
// transport, stream, then the background loops. A failure leaves the
// already-started components for Stop to unwind.
func (s *Service) Start(ctx context.Context) error {
	if err := s.store.Load(); err != nil {
		return err
	}
	s.metrics.ActiveProfiles.Set(float64(s.store.Count()))

	if s.metricSrv != nil {
		if err := s.metricSrv.Start(ctx); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoops = cancel

	if err := s.pool.Start(loopCtx); err != nil {
		return errors.WrapFatal(err, "service", "Start", "matcher pool startup")
	}

	s.transport.SetHandler(s.handleInbound)
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.monitor.SetHealthy("telegram", "receiving updates")

	s.source.SetHandler(s.handlePrediction)
	if err := s.source.Start(ctx); err != nil {
		return err
	}
	s.monitor.SetHealthy("stream", "connected")

	s.loops.Add(1)
	go s.deliveryLoop(loopCtx)

	s.loops.Add(1)
	go s.sweepLoop(loopCtx)

	if s.poller != nil {
		s.loops.Add(1)
		go s.pollLoop(loopCtx)
	} else {
		s.logger.Info("aprs relay disabled, no api key configured")
	}

	s.logger.Info("pipeline started",
		"profiles", s.store.Count(),
		"stream", s.source.Name(),
		"relay_enabled", s.poller != nil)
	return nil
}

// Stop unwinds the pipeline in reverse order of Start. The first error
// is returned, but every component gets its chance to stop.
func (s *Service) Stop(timeout time.Duration) error {
	var firstErr error
	keep := func(err error) {
		if err == nil {
			return
		}
		// A transient stop failure (a drain that timed out, a slow
		// flush) must not turn an otherwise clean shutdown into a
		// failed one.
		if errors.IsTransient(err) {
			s.logger.Warn("component stop reported a transient error", "error", err)
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if s.source != nil {
		keep(s.source.Stop(timeout))
	}
	if s.transport != nil {
		keep(s.transport.Stop(timeout))
	}

	if s.cancelLoops != nil {
		s.cancelLoops()
	}
	s.loops.Wait()

	keep(s.pool.Stop(timeout))

	if s.metricSrv != nil {
		keep(s.metricSrv.Stop(timeout))
	}

	s.logger.Info("pipeline stopped", "undelivered", s.queue.Len())
	return firstErr
}

// handlePrediction runs on the stream's delivery goroutine, so it only
// hands the event to the pool.
func (s *Service) handlePrediction(p prediction.Prediction) {
	s.metrics.PredictionsReceived.Inc()
	if err := s.pool.Submit(p); err != nil {
		s.logger.Warn("prediction dropped", "serial", p.Serial, "error", err)
	}
}

func (s *Service) matchPrediction(_ context.Context, p prediction.Prediction) error {
	n := s.matcher.MatchPrediction(p)
	if n > 0 {
		s.metrics.AlertsEnqueued.Add(float64(n))
	}
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
	return nil
}

// handleInbound processes one subscriber message and replies
// synchronously, bypassing the delivery queue.
func (s *Service) handleInbound(chatID int64, text string) {
	reply := s.conv.HandleMessage(chatID, text)
	s.metrics.ActiveProfiles.Set(float64(s.store.Count()))

	if reply.Text == "" {
		return
	}
	if err := s.transport.Send(chatID, reply.Text, reply.Mode); err != nil {
		s.logger.Error("reply delivery failed", "chat_id", chatID, "error", err)
		s.metrics.SendErrors.Inc()
	}
}

// deliveryLoop drains at most one queued message per tick. The fixed
// cadence doubles as rate limiting toward the messaging API.
func (s *Service) deliveryLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.deliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deliverNext()
		}
	}
}

func (s *Service) deliverNext() {
	msg, ok := s.queue.DrainOne()
	if !ok {
		return
	}
	if err := s.transport.Send(msg.ChatID, msg.Text, msg.Mode); err != nil {
		// Dropped, not re-queued: a permanently unreachable chat must
		// not wedge the queue head.
		s.logger.Error("message delivery failed",
			"chat_id", msg.ChatID,
			"class", errors.Classify(err).String(),
			"error", err)
		s.metrics.SendErrors.Inc()
	} else {
		s.metrics.MessagesSent.Inc()
	}
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
}

// sweepLoop periodically evicts expired dedup records, so landing
// entries for serials that never reappear do not accumulate for the
// process lifetime.
func (s *Service) sweepLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cache.Sweep(); n > 0 {
				s.logger.Debug("expired dedup records swept", "count", n)
			}
		}
	}
}

// pollLoop periodically fetches APRS messages for the registered
// callsigns. Polls are sequential: a slow API response delays the next
// tick's work rather than stacking requests.
func (s *Service) pollLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	callsigns := s.store.Callsigns()
	if len(callsigns) == 0 {
		return
	}

	failed := false
	for _, batch := range chunkCallsigns(callsigns, aprs.MaxCallsignsPerPoll) {
		s.metrics.PollsTotal.Inc()
		msgs, err := s.poller.Poll(ctx, batch)
		if err != nil {
			failed = true
			s.metrics.PollErrors.Inc()
			if errors.IsInvalid(err) {
				// The API answered with something undecodable, which a
				// retry next tick will not fix on its own.
				s.logger.Error("aprs response invalid", "callsigns", len(batch), "error", err)
			} else {
				s.logger.Warn("aprs poll failed", "callsigns", len(batch), "error", err)
			}
			continue
		}
		if n := s.matcher.MatchRelays(msgs); n > 0 {
			s.metrics.RelaysEnqueued.Add(float64(n))
			s.metrics.QueueDepth.Set(float64(s.queue.Len()))
		}
	}

	if failed {
		s.monitor.SetUnhealthy("aprs", "last poll cycle had failures")
	} else {
		s.monitor.SetHealthy("aprs", "polling")
	}
}

// chunkCallsigns splits callsigns into batches of at most size.
func chunkCallsigns(callsigns []string, size int) [][]string {
	var batches [][]string
	for len(callsigns) > size {
		batches = append(batches, callsigns[:size])
		callsigns = callsigns[size:]
	}
	return append(batches, callsigns)
}
