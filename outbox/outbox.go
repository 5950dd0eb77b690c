// Package outbox buffers outbound messages between the matchers that
// produce them and the delivery loop that drains them. The queue is
// unbounded and in-memory: producers are bounded by polling intervals
// and per-event fan-out is bounded by subscriber count, so growth is
// limited in practice.
package outbox

import (
	"strings"
	"sync"
)

// Mode selects how the messaging transport renders a message body.
type Mode int

const (
	// ModePlain disables formatting.
	ModePlain Mode = iota
	// ModeMarkdownV2 uses Telegram's MarkdownV2 rendering.
	ModeMarkdownV2
	// ModeHTML uses Telegram's HTML rendering. This is the default for
	// all pipeline-generated messages.
	ModeHTML
)

// Message is a single outbound message awaiting delivery.
type Message struct {
	ChatID int64
	Text   string
	Mode   Mode
}

// Queue is a FIFO of pending outbound messages, safe for concurrent
// enqueue from multiple matchers with a single draining reader.
type Queue struct {
	mu       sync.Mutex
	messages []Message
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a message. It always succeeds.
func (q *Queue) Enqueue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
}

// DrainOne removes and returns the oldest message. ok is false when the
// queue is empty.
func (q *Queue) DrainOne() (msg Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return Message{}, false
	}
	msg = q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// markdownV2Escapes is the set of characters Telegram requires escaped
// in MarkdownV2 text.
const markdownV2Escapes = "-.=+*`_[]!"

// EscapeMarkdownV2 backslash-escapes text for ModeMarkdownV2 delivery.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownV2Escapes, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
