package dataset

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"golang.org/x/sync/singleflight"
)

// Keys of the derived per-probe lengths
const (
	UnitTableLength      = "unit_table_length"
	ElectrodeTableLength = "electrode_table_length"
)

// RawObjects are only loaded when raw data is kept
var RawObjects = []string{"ephysData", "_iblrig_Camera"}

// Options configure a SessionContext
type Options struct {
	// Probes is the number of probes of the session, frozen for the run
	Probes int
	// SaveRaw enables loading raw recordings and videos
	SaveRaw bool
	// Start is the session start time, used to align timestamp logs
	Start   time.Time
	Metrics *internal.Metrics
}

type memoEntry struct {
	bundle *alyx.Bundle
	err    error
}

// SessionContext owns all per-session loader state: the memo of fetched
// bundles keyed by reference string, the memo of successful joined loads, and
// the derived lengths and file names. It is safe for concurrent use; every
// reference is fetched at most once and every derived key is written once.
type SessionContext struct {
	SessionID string
	client    alyx.Client
	opts      Options

	group singleflight.Group

	mu      sync.Mutex
	bundles map[string]memoEntry
	joined  map[string]Grouped
	lengths map[string][]int
	names   map[string][]string
}

// NewSessionContext creates the state for converting one session
func NewSessionContext(client alyx.Client, sessionID string, opts Options) *SessionContext {
	return &SessionContext{
		SessionID: sessionID,
		client:    client,
		opts:      opts,
		bundles:   make(map[string]memoEntry),
		joined:    make(map[string]Grouped),
		lengths:   make(map[string][]int),
		names:     make(map[string][]string),
	}
}

// Probes returns the frozen probe count
func (s *SessionContext) Probes() int { return s.opts.Probes }

// SaveRaw reports whether raw data is loaded
func (s *SessionContext) SaveRaw() bool { return s.opts.SaveRaw }

// Start returns the session start time
func (s *SessionContext) Start() time.Time { return s.opts.Start }

// Lengths returns a derived per-probe length list
func (s *SessionContext) Lengths(key string) ([]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lengths[key]
	return v, ok
}

// SetLengths records a derived length list unless one is already recorded.
// It reports whether this call wrote the value.
func (s *SessionContext) SetLengths(key string, v []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lengths[key]; ok {
		return false
	}
	s.lengths[key] = v
	return true
}

// Names returns the per-file names recorded for a reference
func (s *SessionContext) Names(ref string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.names[ref]
	return v, ok
}

// SetNames records per-file names for a reference unless already recorded
func (s *SessionContext) SetNames(ref string, names []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[ref]; ok {
		return false
	}
	s.names[ref] = names
	return true
}

// excluded applies the raw-data policy
func (s *SessionContext) excluded(ref string) bool {
	if s.opts.SaveRaw {
		return false
	}
	obj := alyx.Object(ref)
	for _, raw := range RawObjects {
		if obj == raw {
			return true
		}
	}
	return false
}

// fetch returns the bundle for one reference, calling the client at most once
// per reference for the life of the session. Failed and empty fetches are
// remembered too.
func (s *SessionContext) fetch(ctx context.Context, ref string) (*alyx.Bundle, error) {
	if e, ok := s.cached(ref); ok {
		s.opts.Metrics.ObserveCacheHit()
		return e.bundle, e.err
	}

	if isRawEphys(ref) {
		for _, side := range []string{"ephysData.raw.meta", "ephysData.raw.ch"} {
			if _, err := s.fetch(ctx, side); err != nil {
				internal.LogDebug("prefetch %s for %s: %v", side, s.SessionID, err)
			}
		}
	}

	v, _, _ := s.group.Do(ref, func() (interface{}, error) {
		if e, ok := s.cached(ref); ok {
			return e, nil
		}
		bundle, err := s.client.Load(ctx, s.SessionID, []string{ref}, true)
		if err != nil {
			err = &internal.FetchError{SessionID: s.SessionID, Dataset: ref, Op: "load", Err: err}
		}
		s.opts.Metrics.ObserveFetch(err == nil)
		e := memoEntry{bundle: bundle, err: err}
		s.mu.Lock()
		s.bundles[ref] = e
		s.mu.Unlock()
		return e, nil
	})
	e := v.(memoEntry)
	return e.bundle, e.err
}

func (s *SessionContext) cached(ref string) (memoEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.bundles[ref]
	return e, ok
}

// sidecar finds a prefetched companion file (".ch" or ".meta") for an item
func (s *SessionContext) sidecar(item alyx.Item, suffix string) (alyx.Item, bool) {
	ref := "ephysData.raw" + suffix
	e, ok := s.cached(ref)
	if !ok || e.bundle == nil {
		return alyx.Item{}, false
	}
	stem := strings.TrimSuffix(item.Name(), item.Suffix())
	var fallback alyx.Item
	found := false
	for _, cand := range e.bundle.Items {
		if cand.Missing() || cand.Collection != item.Collection {
			continue
		}
		if strings.TrimSuffix(cand.Name(), cand.Suffix()) == stem {
			return cand, true
		}
		if !found {
			fallback, found = cand, true
		}
	}
	return fallback, found
}

func (s *SessionContext) cachedJoined(key string) (Grouped, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.joined[key]
	return g, ok
}

func (s *SessionContext) storeJoined(key string, g Grouped) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[key]; !ok {
		s.joined[key] = g
	}
}

func isRawEphys(ref string) bool {
	return strings.HasPrefix(ref, "ephysData.raw.") &&
		ref != "ephysData.raw.meta" && ref != "ephysData.raw.ch"
}

// FetchCount returns the number of distinct references fetched so far
func (s *SessionContext) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bundles)
}

func (s *SessionContext) String() string {
	return fmt.Sprintf("session %s (%d probes, raw=%v)", s.SessionID, s.opts.Probes, s.opts.SaveRaw)
}
