// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Identity is the tuple that decides whether consecutive samples belong
// to the same session.
type Identity struct {
	App   string
	Title string
	URL   string // empty means no URL was observed
}

// Sample is one point-in-time observation of the foreground window.
// Immutable once created; it lives only in the in-memory buffer until
// it is folded into a session.
type Sample struct {
	Timestamp time.Time
	App       string
	Title     string
	URL       string
}

// Identity returns the sample's session identity.
func (s Sample) Identity() Identity {
	return Identity{App: s.App, Title: s.Title, URL: s.URL}
}

// Session is a merged interval of continuous identical activity.
// DurationSec is computed once at close time and never recomputed
// from storage.
type Session struct {
	StartTime    time.Time
	EndTime      time.Time
	DurationSec  float64
	App          string
	Title        string
	URL          string
	Category     string
	IsProductive bool
	DeviceID     string
}

// Identity returns the session's identity tuple.
func (s Session) Identity() Identity {
	return Identity{App: s.App, Title: s.Title, URL: s.URL}
}

// AggregatorState is the single "currently open" session marker.
// At most one session may be open at a time. It survives flushes and,
// via the store's resume-from-tail mechanism, process restarts.
type AggregatorState struct {
	Active   bool
	Identity Identity
	Start    time.Time
}

// Suggestion is the result of an external AI classification callback.
type Suggestion struct {
	Category   string  `json:"category"`
	Productive bool    `json:"productive"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// TrackerInfo describes the running sampling process.
type TrackerInfo struct {
	PID       int
	DeviceID  string
	StartedAt time.Time
	Version   string
}

// RegistryEntry is the persisted state of the tracker process, used for
// single-instance detection and the status command.
type RegistryEntry struct {
	Version       int    `json:"version"`
	TrackerPID    int    `json:"tracker_pid"`
	DeviceID      string `json:"device_id"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}
