package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isstrack/pkg/model"
)

func testSample(lon float64) *model.PositionSample {
	return &model.PositionSample{
		Latitude:    12,
		Longitude:   lon,
		AltitudeKM:  420,
		VelocityKMH: 27580,
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_EmptyBeforeFirstFetch(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	assert.Nil(t, snap.Latest)
	assert.Nil(t, snap.Trend)
	assert.False(t, snap.Stale)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestStore_SetLatestCopiesSample(t *testing.T) {
	s := NewStore()
	in := testSample(100)
	s.SetLatest(in)
	in.Longitude = -1

	assert.Equal(t, 100.0, s.Snapshot().Latest.Longitude)
}

func TestStore_SetTrendCopiesWindow(t *testing.T) {
	s := NewStore()
	in := &model.TrendWindow{Positions: []model.PositionSample{*testSample(1), *testSample(2)}, Count: 2, Hours: 24}
	s.SetTrend(in)

	// The caller reuses its window for the next fetch.
	in.Positions[0].Longitude = 99
	in.Positions = append(in.Positions[:0], *testSample(3))
	in.Count = 1

	snap := s.Snapshot()
	require.NotNil(t, snap.Trend)
	assert.NotSame(t, in, snap.Trend)
	assert.Equal(t, 2, snap.Trend.Count)
	require.Len(t, snap.Trend.Positions, 2)
	assert.Equal(t, 1.0, snap.Trend.Positions[0].Longitude)
	assert.Equal(t, 2.0, snap.Trend.Positions[1].Longitude)

	s.SetTrend(nil)
	assert.Nil(t, s.Snapshot().Trend)
}

func TestStore_FailurePreservesGoodData(t *testing.T) {
	s := NewStore()
	w := &model.TrendWindow{Positions: []model.PositionSample{*testSample(1)}, Count: 1, Hours: 24}
	s.SetLatest(testSample(50))
	s.SetTrend(w)

	latestErr := errors.New("backend unreachable")
	s.FailLatest(latestErr)
	s.FailTrend(errors.New("NO_DATA: nothing recorded"))

	snap := s.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 50.0, snap.Latest.Longitude)
	assert.True(t, snap.Stale)
	assert.Equal(t, w, snap.Trend)
	assert.Equal(t, "backend unreachable", snap.Error())
	assert.Same(t, latestErr, snap.Err())
	assert.Equal(t, "NO_DATA: nothing recorded", snap.TrendError)

	s.SetLatest(testSample(55))
	snap = s.Snapshot()
	assert.False(t, snap.Stale)
	assert.Empty(t, snap.LatestError)
	assert.Nil(t, snap.LatestErr)
	assert.Equal(t, "NO_DATA: nothing recorded", snap.Error())
}

func TestStore_FailureWithoutPriorDataIsNotStale(t *testing.T) {
	s := NewStore()
	s.FailLatest(errors.New("boom"))

	snap := s.Snapshot()
	assert.Nil(t, snap.Latest)
	assert.False(t, snap.Stale)
	assert.Equal(t, "boom", snap.LatestError)
}

func TestStore_SubscribersNotifiedInOrder(t *testing.T) {
	s := NewStore()
	var calls []string

	cancelA := s.Subscribe(func(Snapshot) { calls = append(calls, "a") })
	s.Subscribe(func(snap Snapshot) {
		calls = append(calls, "b")
		// Reading back from inside a listener must not deadlock.
		assert.Equal(t, snap.Version, s.Snapshot().Version)
	})

	s.SetLatest(testSample(1))
	assert.Equal(t, []string{"a", "b"}, calls)

	cancelA()
	cancelA() // second cancel is harmless
	s.SetLoading(true)
	assert.Equal(t, []string{"a", "b", "b"}, calls)
}

func TestStore_ConcurrentWritersIncrementVersion(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	seen := 0
	s.Subscribe(func(Snapshot) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.SetLatest(testSample(float64(i)))
		}(i)
		go func() {
			defer wg.Done()
			s.SetTrend(&model.TrendWindow{})
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(100), s.Snapshot().Version)
	assert.Equal(t, 100, seen)
}
