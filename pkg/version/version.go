package version

import "fmt"

// Version is the release version, overridden at build time with
// -ldflags "-X isstrack/pkg/version.Version=...".
var Version = "v0.4.0"

// UserAgent is the User-Agent sent to the telemetry backend.
func UserAgent() string {
	return fmt.Sprintf("isstrack/%s (ground track service)", Version)
}
