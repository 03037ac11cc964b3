package scene

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isstrack/pkg/history"
	"isstrack/pkg/marker"
	"isstrack/pkg/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(lat, lon float64, minute int) model.PositionSample {
	return model.PositionSample{
		Latitude:    lat,
		Longitude:   lon,
		AltitudeKM:  420,
		VelocityKMH: 27600,
		Timestamp:   t0.Add(time.Duration(minute) * time.Minute),
	}
}

type trackRecorder struct {
	segments, points int
	stale            bool
	calls            int
}

func (r *trackRecorder) SetTrack(segments, points int, stale bool) {
	r.segments, r.points, r.stale = segments, points, stale
	r.calls++
}

func TestScene_RecomputesOnEveryChange(t *testing.T) {
	store := history.NewStore()
	rec := &trackRecorder{}
	sc := New(marker.NewMapView(3), rec)
	detach := sc.Attach(store)
	defer detach()

	assert.Empty(t, sc.Segments())
	assert.Nil(t, sc.Latest())

	store.SetTrend(&model.TrendWindow{Positions: []model.PositionSample{
		sample(0, 179, 1),
		sample(0, 170, 0),
		sample(0, -179, 2),
	}})
	require.Len(t, sc.Segments(), 2)

	latest := sample(1, -178, 3)
	store.SetLatest(&latest)

	segs := sc.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, model.PathSegment{{170, 0}, {179, 0}}, segs[0])
	assert.Equal(t, model.PathSegment{{-179, 0}, {-178, 1}}, segs[1])
	assert.Equal(t, 2, rec.segments)
	assert.Equal(t, 4, rec.points)
	assert.False(t, rec.stale)
}

func TestScene_RecentresKeepingZoom(t *testing.T) {
	store := history.NewStore()
	view := marker.NewMapView(3)
	sc := New(view, nil)
	sc.Attach(store)

	view.SetZoom(6)
	s := sample(-20, 135, 0)
	store.SetLatest(&s)

	assert.Equal(t, model.ViewState{Center: orb.Point{135, -20}, Zoom: 6, Centered: true}, view.State())

	// A failed fetch keeps the view where it is.
	view.SetZoom(8)
	store.FailLatest(assertErr("boom"))
	assert.Equal(t, model.ViewState{Center: orb.Point{135, -20}, Zoom: 8, Centered: true}, view.State())
}

func TestScene_LatestEvents(t *testing.T) {
	store := history.NewStore()
	sc := New(marker.NewMapView(3), nil)
	sc.Attach(store)

	var events []LatestEvent
	cancel := sc.OnLatestChanged(func(ev LatestEvent) { events = append(events, ev) })

	a := sample(0, 10, 0)
	store.SetLatest(&a)
	store.SetTrend(&model.TrendWindow{}) // not a latest change
	b := sample(0, 11, 1)
	store.SetLatest(&b)

	require.Len(t, events, 2)
	assert.Nil(t, events[0].HeadingDeg)
	require.NotNil(t, events[1].HeadingDeg)
	assert.InDelta(t, 90, *events[1].HeadingDeg, 0.01, "due east along the equator")
	assert.Equal(t, orb.Point{11, 0}, events[1].View.Center)
	assert.Less(t, events[0].Version, events[1].Version)

	payload, err := json.Marshal(events[1])
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"heading_deg":`)

	cancel()
	c := sample(0, 12, 2)
	store.SetLatest(&c)
	assert.Len(t, events, 2)
}

func TestScene_IgnoresOutOfOrderSnapshots(t *testing.T) {
	sc := New(marker.NewMapView(3), nil)
	newer := sample(0, 50, 1)
	older := sample(0, 40, 0)

	sc.Apply(history.Snapshot{Latest: &newer, Version: 5})
	sc.Apply(history.Snapshot{Latest: &older, Version: 4})

	assert.Equal(t, 50.0, sc.Latest().Longitude)
	assert.Equal(t, orb.Point{50, 0}, sc.View().State().Center)
}

func TestScene_FeatureCollectionAndLength(t *testing.T) {
	store := history.NewStore()
	sc := New(marker.NewMapView(3), nil)
	sc.Attach(store)

	store.SetTrend(&model.TrendWindow{Positions: []model.PositionSample{sample(0, 0, 0), sample(0, 1, 1)}})
	l := sample(0, 2, 2)
	store.SetLatest(&l)

	fc := sc.FeatureCollection()
	require.Len(t, fc.Features, 2)
	assert.InDelta(t, 222.4, sc.PathLengthKM(), 0.5)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestScene_Current(t *testing.T) {
	store := history.NewStore()
	sc := New(marker.NewMapView(5), nil)
	defer sc.Attach(store)()

	assert.Nil(t, sc.Current())

	latest := sample(10, 20, 0)
	store.SetLatest(&latest)

	ev := sc.Current()
	require.NotNil(t, ev)
	assert.Equal(t, 20.0, ev.Sample.Longitude)
	assert.Equal(t, 1, ev.Segments)
	assert.Equal(t, orb.Point{20, 10}, ev.View.Center)
	assert.Equal(t, 5.0, ev.View.Zoom)
	assert.Equal(t, store.Snapshot().Version, ev.Version)
	assert.Equal(t, store.Snapshot().UpdatedAt, ev.At)
}

func TestScene_CurrentMatchesPushedEvent(t *testing.T) {
	store := history.NewStore()
	sc := New(marker.NewMapView(3), nil)
	defer sc.Attach(store)()

	var pushed []LatestEvent
	defer sc.OnLatestChanged(func(ev LatestEvent) { pushed = append(pushed, ev) })()

	latest := sample(1, 2, 0)
	store.SetLatest(&latest)
	time.Sleep(5 * time.Millisecond)

	cur := sc.Current()
	require.NotNil(t, cur)
	require.Len(t, pushed, 1)
	assert.Equal(t, pushed[0].Version, cur.Version)
	assert.True(t, pushed[0].At.Equal(cur.At), "pushed %v, current %v", pushed[0].At, cur.At)
}
