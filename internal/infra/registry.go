package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

// FileRegistry implements domain.TrackerRegistry using a JSON file
// written atomically. It backs single-instance detection and the
// status command.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a file-based tracker registry at path.
func NewFileRegistry(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register saves the current tracker's PID and metadata.
func (r *FileRegistry) Register(info domain.TrackerInfo) error {
	now := time.Now().Unix()
	entry := &domain.RegistryEntry{
		Version:       1,
		TrackerPID:    info.PID,
		DeviceID:      info.DeviceID,
		StartedAt:     info.StartedAt.Unix(),
		LastHeartbeat: now,
		AppVersion:    info.Version,
	}
	if info.StartedAt.IsZero() {
		entry.StartedAt = now
	}
	return r.atomicWrite(entry)
}

// Heartbeat updates the liveness timestamp.
func (r *FileRegistry) Heartbeat() error {
	entry, err := r.Get()
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("tracker not registered")
	}

	entry.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(entry)
}

// Get returns the persisted registry state, nil if none exists.
func (r *FileRegistry) Get() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Clear removes the registry file.
func (r *FileRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RunningTracker returns the registered tracker entry if its process is
// still alive, nil otherwise. Used for single-instance detection.
func (r *FileRegistry) RunningTracker() (*domain.RegistryEntry, error) {
	entry, err := r.Get()
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.TrackerPID == os.Getpid() {
		return nil, nil
	}
	if !r.processManager.IsRunning(entry.TrackerPID) {
		return nil, nil
	}
	return entry, nil
}

// atomicWrite writes the registry entry to file atomically.
func (r *FileRegistry) atomicWrite(entry *domain.RegistryEntry) error {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	return WriteFileAtomic(r.path, data, 0600)
}

// Ensure FileRegistry implements domain.TrackerRegistry.
var _ domain.TrackerRegistry = (*FileRegistry)(nil)
