package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DeviceID returns the stable opaque identifier for this host, generating
// and caching it in path on first use. Every process on the host shares
// the same id; it namespaces storage files so devices never collide.
func DeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read device id file: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if err := WriteFileAtomic(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
