package conversation

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/ashleyhuxley/sonde-alert/outbox"
	"github.com/ashleyhuxley/sonde-alert/profile"
)

// MaxMessageLen is the longest inbound message the host will process.
// Anything longer is rejected before it reaches the state machine.
const MaxMessageLen = 100

const msgTooLong = "Sorry, that message is too long."

// Reply is what the host wants sent back to the subscriber. Replies are
// synchronous: they bypass the delivery queue.
type Reply struct {
	Text string
	Mode outbox.Mode
}

// Manager hosts the per-subscriber conversation flows. It owns the flow
// map exclusively, creates profiles when a flow first reaches Active,
// and removes them when a flow deactivates.
type Manager struct {
	mu     sync.Mutex
	flows  map[int64]*Flow
	store  *profile.Store
	logger *slog.Logger
}

// NewManager creates a conversation manager backed by the given store.
func NewManager(store *profile.Store, logger *slog.Logger) *Manager {
	return &Manager{
		flows:  make(map[int64]*Flow),
		store:  store,
		logger: logger.With("component", "conversation"),
	}
}

// HandleMessage processes one inbound message from a subscriber and
// returns the reply to send. Messages for the same subscriber must be
// delivered to this method one at a time; different subscribers may be
// handled concurrently.
func (m *Manager) HandleMessage(chatID int64, text string) Reply {
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return Reply{Text: outbox.EscapeMarkdownV2(msgTooLong), Mode: outbox.ModeMarkdownV2}
	}

	m.mu.Lock()
	flow, ok := m.flows[chatID]
	if !ok {
		start := StateStart
		if m.store.Has(chatID) {
			start = StateActive
		}
		flow = NewFlow(start)
		m.flows[chatID] = flow
	}
	m.mu.Unlock()

	before := flow.State
	reply := flow.Respond(text)

	switch {
	case flow.State == StateActive && before == StateAwaitingCallsign:
		// Onboarding just completed: the flow's scratch fields become
		// the subscriber's profile.
		m.store.Add(profile.Profile{
			ChatID:   chatID,
			Home:     profile.Coordinate{Lat: flow.Lat, Lon: flow.Lon},
			RangeKm:  flow.RangeKm,
			Callsign: flow.Callsign,
		})
		m.logger.Info("subscriber activated", "chat_id", chatID, "range_km", flow.RangeKm)

	case flow.State == StateDeactivated:
		m.store.Remove(chatID)
		m.mu.Lock()
		delete(m.flows, chatID)
		m.mu.Unlock()
		m.logger.Info("subscriber deactivated", "chat_id", chatID)
	}

	return Reply{Text: reply, Mode: outbox.ModeHTML}
}

// ActiveFlows returns the number of in-memory conversation flows.
func (m *Manager) ActiveFlows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}
