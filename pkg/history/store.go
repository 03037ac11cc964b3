package history

import (
	"slices"
	"sync"
	"time"

	"isstrack/pkg/model"
)

// Snapshot is an immutable view of the store at one point in time.
// Latest and Trend are shared with the store and must not be modified.
type Snapshot struct {
	Latest      *model.PositionSample
	Trend       *model.TrendWindow
	Stale       bool   // Latest is the last good sample; the most recent fetch failed.
	LatestError string // Message of the last failed latest fetch, empty after a success.
	TrendError  string
	LatestErr   error // The failure behind LatestError, for classification.
	TrendErr    error
	Loading     bool
	UpdatedAt   time.Time
	Version     uint64 // Incremented on every mutation.
}

// Error returns the message to surface to the user, latest first.
func (s Snapshot) Error() string {
	if s.LatestError != "" {
		return s.LatestError
	}
	return s.TrendError
}

// Err returns the failure behind Error.
func (s Snapshot) Err() error {
	if s.LatestErr != nil {
		return s.LatestErr
	}
	return s.TrendErr
}

// Listener receives the snapshot produced by a mutation.
type Listener func(Snapshot)

// Store holds the latest fetched sample and trend window.
// Values are replaced wholesale; a failed fetch never clears good data.
type Store struct {
	mu        sync.Mutex
	state     Snapshot
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		listeners: make(map[uint64]Listener),
		now:       time.Now,
	}
}

// SetLatest replaces the latest sample and clears its error and stale flag.
func (s *Store) SetLatest(sample *model.PositionSample) {
	var cp *model.PositionSample
	if sample != nil {
		v := *sample
		cp = &v
	}
	s.mutate(func(st *Snapshot) {
		st.Latest = cp
		st.Stale = false
		st.LatestError = ""
		st.LatestErr = nil
	})
}

// SetTrend replaces the trend window and clears its error.
func (s *Store) SetTrend(w *model.TrendWindow) {
	var cp *model.TrendWindow
	if w != nil {
		v := *w
		v.Positions = slices.Clone(w.Positions)
		cp = &v
	}
	s.mutate(func(st *Snapshot) {
		st.Trend = cp
		st.TrendError = ""
		st.TrendErr = nil
	})
}

// FailLatest records a failed latest fetch. The previous sample is kept and marked stale.
func (s *Store) FailLatest(err error) {
	s.mutate(func(st *Snapshot) {
		st.LatestError = err.Error()
		st.LatestErr = err
		st.Stale = st.Latest != nil
	})
}

// FailTrend records a failed trend fetch. The previous window is kept.
func (s *Store) FailTrend(err error) {
	s.mutate(func(st *Snapshot) {
		st.TrendError = err.Error()
		st.TrendErr = err
	})
}

// SetLoading flags whether a fetch cycle is in flight.
func (s *Store) SetLoading(loading bool) {
	s.mutate(func(st *Snapshot) {
		st.Loading = loading
	})
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to be called after every mutation, in subscription order.
// The returned func removes the subscription.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// mutate applies fn under the lock and notifies listeners after releasing it.
func (s *Store) mutate(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.state)
	s.state.Version++
	s.state.UpdatedAt = s.now()
	snap := s.state
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
