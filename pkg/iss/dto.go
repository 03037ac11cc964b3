package iss

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"isstrack/pkg/model"
)

type envelope struct {
	OK      *bool           `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
	TraceID string          `json:"trace_id"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// positionDTO mirrors the wire format. Pointers distinguish absent from zero.
type positionDTO struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	AltitudeKM  *float64 `json:"altitude_km"`
	VelocityKMH *float64 `json:"velocity_kmh"`
	Timestamp   *string  `json:"timestamp"`
	Visibility  *string  `json:"visibility"`
	CountryCode *string  `json:"country_code"`
	TimezoneID  *string  `json:"timezone_id"`
}

type trendDTO struct {
	Positions []json.RawMessage `json:"positions"`
	Count     *int              `json:"count"`
	Hours     *int              `json:"hours"`
}

// toSample validates the DTO. Latitude, longitude and timestamp are required;
// absent altitude or velocity read as zero.
func (d *positionDTO) toSample() (*model.PositionSample, error) {
	if d.Latitude == nil || d.Longitude == nil {
		return nil, fmt.Errorf("missing coordinates")
	}
	if d.Timestamp == nil {
		return nil, fmt.Errorf("missing timestamp")
	}
	ts, err := parseTimestamp(*d.Timestamp)
	if err != nil {
		return nil, err
	}

	s := &model.PositionSample{
		Latitude:    *d.Latitude,
		Longitude:   *d.Longitude,
		AltitudeKM:  valueOr(d.AltitudeKM, 0),
		VelocityKMH: valueOr(d.VelocityKMH, 0),
		Timestamp:   ts,
		Visibility:  nonEmpty(d.Visibility),
		CountryCode: nonEmpty(d.CountryCode),
		TimezoneID:  nonEmpty(d.TimezoneID),
	}
	// -180 and 180 are the same meridian; keep the backend value as-is.
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
