package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"isstrack/pkg/model"
)

// Feature kinds set in the "kind" property.
const (
	KindPath   = "path"
	KindMarker = "marker"
)

// FeatureCollection renders the ground track and the live marker as GeoJSON.
// The path is a single MultiLineString feature (one line per segment); the marker is a
// Point feature carrying altitude, velocity and timestamp. Either may be absent.
func FeatureCollection(segments []model.PathSegment, latest *model.PositionSample) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(segments) > 0 {
		mls := make(orb.MultiLineString, 0, len(segments))
		points := 0
		for _, s := range segments {
			mls = append(mls, orb.LineString(s))
			points += len(s)
		}
		path := geojson.NewFeature(mls)
		path.Properties["kind"] = KindPath
		path.Properties["segments"] = len(segments)
		path.Properties["points"] = points
		fc.Append(path)
	}

	if latest != nil {
		marker := geojson.NewFeature(latest.Point())
		marker.Properties["kind"] = KindMarker
		marker.Properties["altitude_km"] = latest.AltitudeKM
		marker.Properties["velocity_kmh"] = latest.VelocityKMH
		marker.Properties["timestamp"] = latest.Timestamp
		if latest.Visibility != nil {
			marker.Properties["visibility"] = *latest.Visibility
		}
		fc.Append(marker)
	}

	return fc
}
