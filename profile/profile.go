// Package profile holds subscriber profiles and persists them to a
// JSON file. The store is the single owner of profile data: the
// conversation host writes through it and the matchers read through it,
// concurrently and without external locking.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ashleyhuxley/sonde-alert/errors"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String formats the coordinate to four decimal places, the precision
// used in outbound messages.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f, %.4f", c.Lat, c.Lon)
}

// Profile is one subscriber's registration: where they live, how far
// out they want alerts, and optionally their amateur radio callsign.
type Profile struct {
	ChatID   int64      `json:"chat_id"`
	Home     Coordinate `json:"home"`
	RangeKm  float64    `json:"range_km"`
	Callsign string     `json:"callsign,omitempty"`
}

// Store is a concurrent profile store backed by a JSON file. Every
// mutation rewrites the whole file; profile churn is human-driven and
// low frequency, so the simplicity wins over incremental persistence.
type Store struct {
	mu       sync.RWMutex
	profiles map[int64]Profile
	loaded   bool

	path   string
	logger *slog.Logger
}

// NewStore creates a store persisting to path. Call Load before first use.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		profiles: make(map[int64]Profile),
		path:     path,
		logger:   logger.With("component", "profile"),
	}
}

// Load reads the profile file. It is idempotent: the file is read once
// per process lifetime and concurrent callers block until the first
// load completes. A missing file is logged and skipped, not fatal.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Warn("profile file does not exist, skipping load", "path", s.path)
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "profile", "Load", "profile file read")
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return errors.WrapInvalid(err, "profile", "Load", "profile file parse")
	}

	for _, p := range profiles {
		s.profiles[p.ChatID] = p
	}
	s.loaded = true
	s.logger.Info("profiles loaded", "count", len(s.profiles), "path", s.path)
	return nil
}

// Add upserts a profile by subscriber id and persists the full set.
func (s *Store) Add(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ChatID] = p
	s.persistLocked()
}

// Remove deletes a profile. It is a no-op when absent and only
// persists when something was actually removed.
func (s *Store) Remove(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[chatID]; !ok {
		return
	}
	delete(s.profiles, chatID)
	s.persistLocked()
}

// Has reports whether a profile exists for the subscriber.
func (s *Store) Has(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[chatID]
	return ok
}

// All returns a snapshot of every profile. Mutating the returned slice
// does not affect the store.
func (s *Store) All() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

// Count returns the number of registered profiles.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// FindByCallsign returns the profile with an exact callsign match.
func (s *Store) FindByCallsign(callsign string) (Profile, bool) {
	if callsign == "" {
		return Profile{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Callsign == callsign {
			return p, true
		}
	}
	return Profile{}, false
}

// Callsigns returns every non-empty callsign, sorted for stable poll
// batches.
func (s *Store) Callsigns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.Callsign != "" {
			out = append(out, p.Callsign)
		}
	}
	sort.Strings(out)
	return out
}

// persistLocked serializes the entire profile set and rewrites the
// backing file atomically (temp file + rename). Write failures are
// logged as critical; the in-memory state stays authoritative for the
// running process.
func (s *Store) persistLocked() {
	profiles := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ChatID < profiles[j].ChatID })

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		s.logger.Error("profile serialization failed, changes not durable", "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json")
	if err != nil {
		s.logger.Error("profile persistence failed, changes not durable", "error", err, "path", s.path)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		s.logger.Error("profile persistence failed, changes not durable", "error", err, "path", s.path)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		s.logger.Error("profile persistence failed, changes not durable", "error", err, "path", s.path)
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		s.logger.Error("profile persistence failed, changes not durable", "error", err, "path", s.path)
		return
	}

	s.logger.Debug("profiles persisted", "count", len(profiles), "path", s.path)
}
