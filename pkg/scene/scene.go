package scene

import (
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"isstrack/pkg/geo"
	"isstrack/pkg/history"
	"isstrack/pkg/marker"
	"isstrack/pkg/model"
)

// LatestEvent is pushed to listeners whenever a new latest sample arrives.
type LatestEvent struct {
	Sample     *model.PositionSample `json:"sample"`
	HeadingDeg *float64              `json:"heading_deg,omitempty"` // from the previous sample, when there is one
	Segments   int                   `json:"segments"`
	View       model.ViewState       `json:"view"`
	Version    uint64                `json:"version"`
	At         time.Time             `json:"at"`
}

// TrackObserver is told about the shape of every recomputed track.
type TrackObserver interface {
	SetTrack(segments, points int, stale bool)
}

// Scene owns the derived ground track. It listens to a history store,
// recomputes the segments on every change and keeps the map centred on the
// station.
type Scene struct {
	updater  *marker.Updater
	view     *marker.MapView
	observer TrackObserver

	applyMu sync.Mutex // serialises Apply so listeners see events in version order

	mu          sync.RWMutex
	segments    []model.PathSegment
	latest      *model.PositionSample
	lastVersion uint64
	updatedAt   time.Time

	lmu       sync.Mutex
	listeners map[uint64]func(LatestEvent)
	nextID    uint64
}

// New creates a scene driving view. observer may be nil.
func New(view *marker.MapView, observer TrackObserver) *Scene {
	return &Scene{
		updater:   marker.NewUpdater(view),
		view:      view,
		observer:  observer,
		segments:  []model.PathSegment{},
		listeners: make(map[uint64]func(LatestEvent)),
	}
}

// Attach subscribes the scene to store and applies its current state.
func (s *Scene) Attach(store *history.Store) (detach func()) {
	cancel := store.Subscribe(s.Apply)
	s.Apply(store.Snapshot())
	return cancel
}

// Apply recomputes the track from snap. Snapshots older than the last one
// applied are ignored, since store listeners may be called out of order.
func (s *Scene) Apply(snap history.Snapshot) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if snap.Version != 0 && snap.Version <= s.lastVersion {
		s.mu.Unlock()
		return
	}
	segments := geo.Segments(snap.Trend, snap.Latest)
	prev := s.latest
	changed := snap.Latest != nil && snap.Latest != prev
	s.segments = segments
	s.latest = snap.Latest
	s.lastVersion = snap.Version
	s.updatedAt = snap.UpdatedAt
	s.mu.Unlock()

	if s.observer != nil {
		points := 0
		for _, seg := range segments {
			points += len(seg)
		}
		s.observer.SetTrack(len(segments), points, snap.Stale)
	}

	if !changed {
		return
	}
	s.updater.OnLatestChanged(snap.Latest)

	ev := LatestEvent{
		Sample:   snap.Latest,
		Segments: len(segments),
		View:     s.view.State(),
		Version:  snap.Version,
		At:       snap.UpdatedAt,
	}
	if prev != nil && !prev.Timestamp.Equal(snap.Latest.Timestamp) {
		h := geo.Bearing(geo.PointOf(prev), geo.PointOf(snap.Latest))
		ev.HeadingDeg = &h
	}
	s.emit(ev)
}

// Segments returns the current path segments, oldest first. The segments are
// shared and must not be modified.
func (s *Scene) Segments() []model.PathSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.segments)
}

// Latest returns the sample the marker is on, or nil.
func (s *Scene) Latest() *model.PositionSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// FeatureCollection returns the track and marker as GeoJSON.
func (s *Scene) FeatureCollection() *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return geo.FeatureCollection(s.segments, s.latest)
}

// PathLengthKM returns the drawn ground distance of the track.
func (s *Scene) PathLengthKM() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return geo.PathLength(s.segments) / 1000
}

// Current returns an event describing the current marker position, or nil
// before the first sample. Streams send it to new listeners.
func (s *Scene) Current() *LatestEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	return &LatestEvent{
		Sample:   s.latest,
		Segments: len(s.segments),
		View:     s.view.State(),
		Version:  s.lastVersion,
		At:       s.updatedAt,
	}
}

// View returns the map view driven by the scene.
func (s *Scene) View() *marker.MapView {
	return s.view
}

// OnLatestChanged registers fn for latest-changed events. fn runs on the
// goroutine that mutated the store and must not block.
func (s *Scene) OnLatestChanged(fn func(LatestEvent)) (cancel func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			delete(s.listeners, id)
		})
	}
}

func (s *Scene) emit(ev LatestEvent) {
	s.lmu.Lock()
	fns := make([]func(LatestEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
