package session

import (
	"sync"
	"time"

	"product-script-studio/internal/analysis"
	"product-script-studio/internal/photo"
)

type Credentials struct {
	GeminiKey   string
	RemoveBGKey string
}

// State is everything one interactive user accumulates. The zero value is the
// empty session: no credentials, no models, nothing processed or analyzed.
// Processed and Analysis are replaced whole and only after a successful run.
type State struct {
	Credentials   Credentials
	Models        []string
	SelectedModel string
	Processed     *photo.Processed
	Analysis      *analysis.Result
	LastActivity  time.Time
}

type Options struct {
	Now func() time.Time
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions: make(map[string]*State),
		now:      now,
	}
}

// Snapshot returns a copy that is safe to read outside the lock. Processed is
// shared since it is immutable.
func (s *Store) Snapshot(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(id)
	st.LastActivity = s.now()
	return cloneState(st)
}

func (s *Store) Update(id string, fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(id)
	if fn != nil {
		fn(st)
	}
	st.LastActivity = s.now()
	return cloneState(st)
}

func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

// Prune drops sessions idle for longer than maxIdle and reports how many went.
func (s *Store) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for id, st := range s.sessions {
		if st.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(id string) *State {
	if st, ok := s.sessions[id]; ok {
		return st
	}

	st := &State{LastActivity: s.now()}
	s.sessions[id] = st
	return st
}

func cloneState(st *State) State {
	out := *st
	if st.Models != nil {
		out.Models = make([]string, len(st.Models))
		copy(out.Models, st.Models)
	}
	if st.Analysis != nil {
		a := *st.Analysis
		out.Analysis = &a
	}
	return out
}
