package geo

import (
	"math"

	"isstrack/pkg/model"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// PointOf returns the coordinate of a position sample.
func PointOf(s *model.PositionSample) Point {
	return Point{Lat: s.Latitude, Lon: s.Longitude}
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	const R = 6371000 // Earth radius in meters
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees.
// Works across the antimeridian since it goes through trigonometry, not raw deltas.
func Bearing(p1, p2 Point) float64 {
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x)

	return math.Mod(brng*(180.0/math.Pi)+360.0, 360.0)
}

// PathLength returns the ground distance in meters along all segments.
// Gaps between segments (antimeridian jumps) are not counted.
func PathLength(segments []model.PathSegment) float64 {
	total := 0.0
	for _, s := range segments {
		for i := 1; i < len(s); i++ {
			total += Distance(Point{Lat: s[i-1].Lat(), Lon: s[i-1].Lon()}, Point{Lat: s[i].Lat(), Lon: s[i].Lon()})
		}
	}
	return total
}
