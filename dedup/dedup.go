// Package dedup answers "has this subscriber already been notified of
// this event". Records are namespaced by event kind: landing records
// expire after a configured TTL so a sonde that lingers can alert
// again days later, relay records never expire because an APRS message
// id is never reused.
//
// The check and the record are deliberately separate calls. Two
// concurrent matchers racing on the same key can both see a clear
// check before either records, so the at-most-once guarantee is best
// effort, not hard. The matcher pool serializes per-event work in
// practice; see the package tests for the accepted race.
package dedup

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Kind is the notification namespace.
type Kind int

const (
	// KindLanding namespaces sonde landing alerts. Expiring.
	KindLanding Kind = iota
	// KindRelay namespaces APRS message relays. Never expires.
	KindRelay
)

// String returns the namespace prefix.
func (k Kind) String() string {
	switch k {
	case KindLanding:
		return "landing"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Key identifies one (kind, recipient, event) notification.
type Key struct {
	Kind    Kind
	Subject string // subscriber id or callsign
	EventID string // sonde serial or APRS message id
}

// LandingKey builds a key for a sonde landing alert.
func LandingKey(chatID int64, serial string) Key {
	return Key{Kind: KindLanding, Subject: strconv.FormatInt(chatID, 10), EventID: serial}
}

// RelayKey builds a key for an APRS relay.
func RelayKey(callsign, messageID string) Key {
	return Key{Kind: KindRelay, Subject: callsign, EventID: messageID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Subject, k.EventID)
}

// Cache is a concurrent presence store with per-kind expiry.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]time.Time // expiry instant; zero means never
	landingTTL time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache whose landing records expire after
// landingTTL.
func NewCache(landingTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]time.Time),
		landingTTL: landingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldNotify reports whether no live record exists for the key.
// Expired records count as absent and are removed on the way through.
func (c *Cache) ShouldNotify(key Key) bool {
	ks := key.String()

	c.mu.RLock()
	expiry, exists := c.entries[ks]
	c.mu.RUnlock()

	if !exists {
		return true
	}
	if expiry.IsZero() || c.now().Before(expiry) {
		return false
	}

	// Expired: drop it so the map does not accumulate stale serials.
	c.mu.Lock()
	if current, ok := c.entries[ks]; ok && !current.IsZero() && !c.now().Before(current) {
		delete(c.entries, ks)
	}
	c.mu.Unlock()
	return true
}

// RecordSent stores a presence marker for the key. Landing records get
// the configured TTL, relay records never expire.
func (c *Cache) RecordSent(key Key) {
	var expiry time.Time
	if key.Kind == KindLanding {
		expiry = c.now().Add(c.landingTTL)
	}

	c.mu.Lock()
	c.entries[key.String()] = expiry
	c.mu.Unlock()
}

// Size returns the number of records currently held, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every expired record and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, expiry := range c.entries {
		if !expiry.IsZero() && !now.Before(expiry) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
