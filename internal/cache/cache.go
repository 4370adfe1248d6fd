// Package cache persists local snapshots of remote files plus device-local
// settings. It is a write-through mirror: components save every successful
// remote payload here and fall back to it when the remote store is down.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Cache stores files under a single data directory, mirroring remote paths.
type Cache struct {
	dir string
}

// New creates the data directory if needed and returns a Cache over it.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache: empty data dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Read returns the cached content for a remote path, or nil when absent.
func (c *Cache) Read(path string) ([]byte, error) {
	full, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", path, err)
	}
	return data, nil
}

// Write stores content for a remote path atomically (temp file + rename).
func (c *Cache) Write(path string, data []byte) error {
	full, err := c.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("cache write %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cache write %s: %w", path, err)
	}
	return nil
}

func (c *Cache) resolve(path string) (string, error) {
	if path == "" || strings.Contains(path, "..") || filepath.IsAbs(path) {
		return "", fmt.Errorf("cache: invalid path %q", path)
	}
	return filepath.Join(c.dir, filepath.FromSlash(path)), nil
}

const settingsFile = "settings.json"

// Settings are device-local values that never leave the device: the active
// session (company or admin) and the legacy single-tenant admin password hash.
type Settings struct {
	CurrentCompanyID  string `json:"currentCompanyId,omitempty"`
	Admin             bool   `json:"admin,omitempty"`
	AdminPasswordHash []byte `json:"adminPasswordHash,omitempty"`
	AdminPasswordSalt []byte `json:"adminPasswordSalt,omitempty"`
}

// Settings loads device settings; a missing file yields zero settings.
func (c *Cache) Settings() (Settings, error) {
	var s Settings
	data, err := c.Read(settingsFile)
	if err != nil || data == nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("cache settings: %w", err)
	}
	return s, nil
}

// SaveSettings persists device settings.
func (c *Cache) SaveSettings(s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.Write(settingsFile, data)
}
