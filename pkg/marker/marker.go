package marker

import (
	"sync"

	"github.com/paulmach/orb"

	"isstrack/pkg/model"
)

// Zoom limits of the slippy map.
const (
	MinZoom = 0.0
	MaxZoom = 22.0
)

// ViewHandle is the map view owned by the rendering surface.
type ViewHandle interface {
	Zoom() float64
	SetView(center orb.Point, zoom float64)
}

// Updater keeps the map centred on the station.
type Updater struct {
	view ViewHandle
}

// NewUpdater creates an updater driving view.
func NewUpdater(view ViewHandle) *Updater {
	return &Updater{view: view}
}

// OnLatestChanged recentres the view on sample, keeping whatever zoom the user has set.
// A nil sample leaves the view untouched.
func (u *Updater) OnLatestChanged(sample *model.PositionSample) {
	if sample == nil {
		return
	}
	u.view.SetView(sample.Point(), u.view.Zoom())
}

// MapView is a concurrency-safe ViewHandle.
type MapView struct {
	mu    sync.RWMutex
	state model.ViewState
}

// NewMapView creates a view at the given initial zoom with no centre yet.
func NewMapView(zoom float64) *MapView {
	return &MapView{state: model.ViewState{Zoom: clampZoom(zoom)}}
}

func (v *MapView) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Zoom
}

func (v *MapView) SetView(center orb.Point, zoom float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = model.ViewState{Center: center, Zoom: clampZoom(zoom), Centered: true}
}

// SetZoom applies a user zoom change. It returns the zoom actually applied.
func (v *MapView) SetZoom(zoom float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Zoom = clampZoom(zoom)
	return v.state.Zoom
}

// State returns a copy of the view state.
func (v *MapView) State() model.ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func clampZoom(z float64) float64 {
	switch {
	case z < MinZoom:
		return MinZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return z
}
