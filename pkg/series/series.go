// Package series turns a trend window into chart series.
package series

import (
	"math"
	"time"

	"isstrack/pkg/geo"
	"isstrack/pkg/model"
)

// LabelLayout formats the x-axis label of a sample.
const LabelLayout = "15:04"

// Point is one chart value.
type Point struct {
	Time  time.Time `json:"time"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}

// Series is a named list of values, oldest first.
type Series struct {
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Points []Point `json:"points"`
}

// Labels returns the x-axis labels of s.
func (s Series) Labels() []string {
	out := make([]string, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Label
	}
	return out
}

// Values returns the y values of s.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Altitude returns the altitude series in km, rounded to 0.1 km.
func Altitude(w *model.TrendWindow) Series {
	return build(w, "Altitude", "km", func(s model.PositionSample) float64 {
		return round(s.AltitudeKM, 1)
	})
}

// Velocity returns the velocity series in km/h, rounded to whole km/h.
func Velocity(w *model.TrendWindow) Series {
	return build(w, "Velocity", "km/h", func(s model.PositionSample) float64 {
		return round(s.VelocityKMH, 0)
	})
}

func build(w *model.TrendWindow, name, unit string, value func(model.PositionSample) float64) Series {
	out := Series{Name: name, Unit: unit, Points: []Point{}}
	if w.Len() == 0 {
		return out
	}
	for _, s := range geo.SortWindow(w.Positions) {
		ts := s.Timestamp.UTC()
		out.Points = append(out.Points, Point{Time: ts, Label: ts.Format(LabelLayout), Value: value(s)})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Movement summarises the step between the two newest samples of a window.
type Movement struct {
	From            model.PositionSample `json:"from"`
	To              model.PositionSample `json:"to"`
	DisplacementKM  float64              `json:"displacement_km"`
	IntervalSeconds float64              `json:"interval_seconds"`
	// GroundSpeedKMH is the displacement over the interval. Zero when the interval is not positive.
	GroundSpeedKMH float64 `json:"ground_speed_kmh"`
	// ReportedKMH is the velocity reported with the newest sample.
	ReportedKMH float64 `json:"reported_kmh"`
}

// MovementOf returns the movement between the two newest samples, or nil when the
// window holds fewer than two.
func MovementOf(w *model.TrendWindow) *Movement {
	if w.Len() < 2 {
		return nil
	}
	sorted := geo.SortWindow(w.Positions)
	from, to := sorted[len(sorted)-2], sorted[len(sorted)-1]

	m := &Movement{
		From:            from,
		To:              to,
		DisplacementKM:  round(geo.Distance(geo.PointOf(&from), geo.PointOf(&to))/1000, 2),
		IntervalSeconds: to.Timestamp.Sub(from.Timestamp).Seconds(),
		ReportedKMH:     to.VelocityKMH,
	}
	if m.IntervalSeconds > 0 {
		m.GroundSpeedKMH = round(m.DisplacementKM/(m.IntervalSeconds/3600), 0)
	}
	return m
}
