package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// PositionSample is one measurement of the station's position.
type PositionSample struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	AltitudeKM  float64   `json:"altitude_km"`
	VelocityKMH float64   `json:"velocity_kmh"`
	Timestamp   time.Time `json:"timestamp"`

	// Descriptive fields, carried through untouched.
	Visibility  *string `json:"visibility,omitempty"`
	CountryCode *string `json:"country_code,omitempty"`
	TimezoneID  *string `json:"timezone_id,omitempty"`
}

// Point returns the sample as an orb point (lon, lat order).
func (p *PositionSample) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// Validate checks ranges and that the sample carries a timestamp.
// Altitude and velocity are only checked for being finite.
func (p *PositionSample) Validate() error {
	for name, v := range map[string]float64{
		"latitude":     p.Latitude,
		"longitude":    p.Longitude,
		"altitude_km":  p.AltitudeKM,
		"velocity_kmh": p.VelocityKMH,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not a finite number", name)
		}
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", p.Longitude)
	}
	if p.Timestamp.IsZero() {
		return errors.New("timestamp required")
	}
	return nil
}

// TrendWindow is a recent history of samples as returned by the backend.
// Positions are in source order, which is not guaranteed to be chronological.
type TrendWindow struct {
	Positions []PositionSample `json:"positions"`
	Count     int              `json:"count"`
	Hours     int              `json:"hours"`
}

// Len returns the number of samples; a nil window has none.
func (w *TrendWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Positions)
}

// PathSegment is a run of points (lon, lat) that can be drawn as one unbroken line.
// No two consecutive points differ in longitude by more than 180 degrees.
type PathSegment = orb.LineString

// ViewState is the map view owned by the rendering surface.
type ViewState struct {
	Center   orb.Point `json:"center"`
	Zoom     float64   `json:"zoom"`
	Centered bool      `json:"centered"`
}
