// Package remote mirrors storage files to a shared directory, typically a
// cloud-drive mount. Upload and pull failures are reported to callers,
// who log and continue; sync never blocks or corrupts local logging.
package remote

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

const stateFileName = ".sync_state.json"

// stateEntry records what we last pulled for a remote file.
type stateEntry struct {
	MD5  string `json:"md5"`
	Name string `json:"name"`
}

// MirrorClient implements domain.SyncClient against a mirror directory.
// Files are keyed by base name; the device-tagged naming convention keeps
// devices from overwriting each other.
type MirrorClient struct {
	remoteDir string
	localDir  string
	deviceID  string
	statePath string
	logger    *zap.Logger

	state map[string]stateEntry
}

// NewMirrorClient creates a sync client. The remote directory must
// already exist; a missing mount disables sync rather than degrading
// local logging.
func NewMirrorClient(remoteDir, localDir, deviceID string, logger *zap.Logger) (*MirrorClient, error) {
	info, err := os.Stat(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("remote directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("remote path is not a directory: %s", remoteDir)
	}

	c := &MirrorClient{
		remoteDir: remoteDir,
		localDir:  localDir,
		deviceID:  deviceID,
		statePath: filepath.Join(localDir, stateFileName),
		logger:    logger,
		state:     make(map[string]stateEntry),
	}
	c.loadState()
	return c, nil
}

// Upload copies one local file to the remote directory, replacing any
// previous copy. The write goes through a temp file so concurrent pulls
// on other devices never see a partial file.
func (c *MirrorClient) Upload(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	destPath := filepath.Join(c.remoteDir, filepath.Base(path))

	// Unique temp name per call: overlapping uploads of the same file
	// must not clobber each other's in-flight copy.
	dest, err := os.CreateTemp(c.remoteDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	tmpPath := dest.Name()

	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy to remote: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish remote file: %w", err)
	}

	c.logger.Debug("uploaded file", zap.String("file", filepath.Base(path)))
	return nil
}

// PullRemote copies remote storage files we do not have locally or whose
// content changed, and returns the local paths it wrote. Files produced
// by this device are skipped; the local copy is authoritative.
func (c *MirrorClient) PullRemote() ([]string, error) {
	entries, err := os.ReadDir(c.remoteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote directory: %w", err)
	}

	var pulled []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".duckdb") {
			continue
		}
		if c.deviceID != "" && strings.Contains(name, c.deviceID) {
			continue
		}

		remotePath := filepath.Join(c.remoteDir, name)
		destPath := filepath.Join(c.localDir, name)

		remoteMD5, err := fileMD5(remotePath)
		if err != nil {
			c.logger.Warn("failed to hash remote file", zap.String("file", name), zap.Error(err))
			continue
		}
		if !c.shouldDownload(name, remoteMD5, destPath) {
			continue
		}

		if err := copyFile(remotePath, destPath); err != nil {
			c.logger.Warn("failed to pull remote file", zap.String("file", name), zap.Error(err))
			continue
		}

		c.state[name] = stateEntry{MD5: remoteMD5, Name: name}
		c.saveState()
		pulled = append(pulled, destPath)
	}

	return pulled, nil
}

// shouldDownload skips files whose recorded or on-disk digest already
// matches the remote.
func (c *MirrorClient) shouldDownload(name, remoteMD5, destPath string) bool {
	if entry, ok := c.state[name]; ok && entry.MD5 == remoteMD5 {
		if _, err := os.Stat(destPath); err == nil {
			return false
		}
	}
	if localMD5, err := fileMD5(destPath); err == nil && localMD5 == remoteMD5 {
		return false
	}
	return true
}

// loadState reads the pull-state file; malformed state starts empty.
func (c *MirrorClient) loadState() {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return
	}
	if err := sonic.Unmarshal(data, &c.state); err != nil {
		c.logger.Warn("sync state malformed, starting fresh", zap.Error(err))
		c.state = make(map[string]stateEntry)
	}
}

func (c *MirrorClient) saveState() {
	data, err := sonic.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(c.statePath, data, 0600); err != nil {
		c.logger.Warn("failed to save sync state", zap.Error(err))
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return err
	}

	out, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Ensure MirrorClient implements domain.SyncClient.
var _ domain.SyncClient = (*MirrorClient)(nil)
