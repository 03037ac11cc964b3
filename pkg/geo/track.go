package geo

import (
	"math"
	"slices"

	"isstrack/pkg/model"
)

// WrapThreshold is the longitude jump (degrees) between consecutive samples above which
// the ground track is taken to have crossed the antimeridian.
const WrapThreshold = 180.0

// Crosses reports whether moving from lonA to lonB crosses the antimeridian.
func Crosses(lonA, lonB float64) bool {
	return math.Abs(lonB-lonA) > WrapThreshold
}

// SortWindow returns a copy of samples ordered by timestamp ascending.
// Samples sharing a timestamp keep their source order.
func SortWindow(samples []model.PositionSample) []model.PositionSample {
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b model.PositionSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return sorted
}

// Segments builds the drawable ground track from a trend window and the latest sample.
// The path is split wherever consecutive points cross the antimeridian, and the latest
// sample is attached to the end of the last segment (or starts a new one if attaching
// it would cross). Segments are returned oldest first; the result is never nil.
func Segments(trend *model.TrendWindow, latest *model.PositionSample) []model.PathSegment {
	segments := []model.PathSegment{}

	if trend.Len() > 0 {
		var current model.PathSegment
		for i, s := range SortWindow(trend.Positions) {
			if i > 0 && Crosses(current[len(current)-1].Lon(), s.Longitude) {
				segments = append(segments, current)
				current = nil
			}
			current = append(current, s.Point())
		}
		segments = append(segments, current)
	}

	if latest == nil {
		return segments
	}

	if len(segments) == 0 {
		return append(segments, model.PathSegment{latest.Point()})
	}

	last := len(segments) - 1
	tail := segments[last][len(segments[last])-1]
	if Crosses(tail.Lon(), latest.Longitude) {
		return append(segments, model.PathSegment{latest.Point()})
	}
	segments[last] = append(segments[last], latest.Point())
	return segments
}
