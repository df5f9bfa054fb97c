package domain

import (
	"context"
	"time"
)

// WindowObserver inspects the foreground application/window.
// Platform-specific; returns (nil, nil) on unsupported platforms or when
// nothing can be observed.
type WindowObserver interface {
	// Poll returns the current foreground sample, or nil.
	Poll() (*Sample, error)
}

// IdleProbe reports whether the user has been idle longer than the
// configured threshold. Returns false (never idle) when unsupported.
type IdleProbe interface {
	IsIdle() bool
}

// Classifier maps an observation to a productivity category.
// The context key identifies the viewing session for keyword-count
// deduplication.
type Classifier interface {
	Classify(app, title, url, contextKey string) (category string, productive bool)
}

// SessionStore persists finalized session rows to per-device, per-month
// columnar files.
type SessionStore interface {
	// Append writes finalized sessions, merging with the stored tail row
	// when contiguous and identical.
	Append(sessions []Session) error

	// Resume inspects the tail of the most recent storage file and
	// returns the open-session state implied by it, or an empty state.
	Resume(now time.Time) AggregatorState
}

// SyncClient mirrors storage files to a remote location.
// Failures are logged by callers and never fatal.
type SyncClient interface {
	// Upload pushes one local file to the remote.
	Upload(path string) error

	// PullRemote fetches remote files not present (or changed) locally
	// and returns the paths it wrote.
	PullRemote() ([]string, error)
}

// Suggester is the optional AI classification capability.
// Any error means "no suggestion".
type Suggester interface {
	Suggest(ctx context.Context, app, title, url string) (Suggestion, error)
}

// ProcessManager handles OS process liveness checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// TrackerRegistry records the running tracker process for single-instance
// detection and the status command. Implementation: JSON file written
// atomically.
type TrackerRegistry interface {
	// Register saves the current tracker's PID and metadata.
	Register(info TrackerInfo) error

	// Heartbeat updates the liveness timestamp.
	Heartbeat() error

	// Get returns the persisted registry state, nil if none exists.
	Get() (*RegistryEntry, error)

	// Clear removes the registry file.
	Clear() error

	// Path returns the registry file path (for tests).
	Path() string
}

// KeyProvider abstracts the source of encryption keys for the secret store.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// SecretStore provides encrypted persistent storage for secrets such as
// the AI API key.
type SecretStore interface {
	// GetSecret retrieves a secret by key.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// Close releases resources (e.g., database connection).
	Close() error
}
