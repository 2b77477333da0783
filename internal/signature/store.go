// Package signature keeps the database of known framework
// fingerprints and their verification-run history.
package signature

import (
	"sort"
	"sync"
	"time"
)

// Key addresses one (framework, version) pair.
type Key struct {
	Framework string
	Version   string
}

// Run is one verification-run observation.
type Run struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is the stored record for one framework/version pair. Mutated
// only by Record; the matcher never writes.
type Entry struct {
	Framework string `json:"framework"`
	Version   string `json:"version"`

	// Signature is the most recently recorded fingerprint.
	Signature string    `json:"signature"`
	Runs      []Run     `json:"runs"`
	FirstSeen time.Time `json:"first_seen"`

	// Inconsistent carries a prior-inconsistency flag loaded from a
	// persisted database whose differing run signatures were not
	// retained on disk.
	Inconsistent bool `json:"inconsistent,omitempty"`

	// Descriptive columns from the on-disk database, kept verbatim.
	Language          string `json:"language,omitempty"`
	HTTPLibrary       string `json:"http_library,omitempty"`
	TLSVersion        string `json:"tls_version,omitempty"`
	DetectionRate     string `json:"detection_rate,omitempty"`
	FalsePositiveRate string `json:"false_positive_rate,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Consistent reports whether every recorded run carries the same
// signature. An entry with no runs is vacuously consistent.
func (e *Entry) Consistent() bool {
	if e.Inconsistent {
		return false
	}
	for _, run := range e.Runs {
		if run.Signature != e.Runs[0].Signature {
			return false
		}
	}
	return true
}

type entryState struct {
	mu    sync.Mutex
	entry Entry
}

// Store maps (framework, version) pairs to their signature history.
// Record serializes writers per key; Lookup and Consistency read
// copied snapshots.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entryState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]*entryState)}
}

// Record appends a verification-run observation for a framework and
// version. Concurrent calls for the same key are serialized; history
// is only ever appended to, never overwritten.
func (s *Store) Record(framework, version, sig string) {
	st := s.state(Key{Framework: framework, Version: version})

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	if len(st.entry.Runs) == 0 && st.entry.FirstSeen.IsZero() {
		st.entry.FirstSeen = now
	}
	st.entry.Runs = append(st.entry.Runs, Run{Signature: sig, Timestamp: now})
	st.entry.Signature = sig
}

// Lookup returns a copy of every entry that has ever recorded the
// given signature. Zero, one, or more entries may match; frameworks
// sharing a TLS library legitimately share a signature.
func (s *Store) Lookup(sig string) []Entry {
	s.mu.RLock()
	states := make([]*entryState, 0, len(s.entries))
	for _, st := range s.entries {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var out []Entry
	for _, st := range states {
		st.mu.Lock()
		for _, run := range st.entry.Runs {
			if run.Signature == sig {
				out = append(out, cloneEntry(st.entry))
				break
			}
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Framework != out[j].Framework {
			return out[i].Framework < out[j].Framework
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Consistency reports whether all recorded runs for the pair carry an
// identical signature. The second result is false when the pair has
// never been recorded.
func (s *Store) Consistency(framework, version string) (consistent, ok bool) {
	s.mu.RLock()
	st := s.entries[Key{Framework: framework, Version: version}]
	s.mu.RUnlock()
	if st == nil {
		return false, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entry.Consistent(), true
}

// Get returns a copy of the entry for the pair, if present.
func (s *Store) Get(framework, version string) (Entry, bool) {
	s.mu.RLock()
	st := s.entries[Key{Framework: framework, Version: version}]
	s.mu.RUnlock()
	if st == nil {
		return Entry{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneEntry(st.entry), true
}

// Entries returns a copy of every entry, ordered by framework then
// version.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	states := make([]*entryState, 0, len(s.entries))
	for _, st := range s.entries {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]Entry, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, cloneEntry(st.entry))
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Framework != out[j].Framework {
			return out[i].Framework < out[j].Framework
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// state returns the per-key state, creating it if needed.
func (s *Store) state(key Key) *entryState {
	s.mu.RLock()
	st := s.entries[key]
	s.mu.RUnlock()
	if st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.entries[key]; st == nil {
		st = &entryState{entry: Entry{Framework: key.Framework, Version: key.Version}}
		s.entries[key] = st
	}
	return st
}

// setEntry installs a fully formed entry, used by database loading.
func (s *Store) setEntry(e Entry) {
	st := s.state(Key{Framework: e.Framework, Version: e.Version})
	st.mu.Lock()
	st.entry = e
	st.mu.Unlock()
}

func cloneEntry(e Entry) Entry {
	out := e
	out.Runs = make([]Run, len(e.Runs))
	copy(out.Runs, e.Runs)
	return out
}
