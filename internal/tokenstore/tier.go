// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package tokenstore

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"

	"github.com/flowfarm/flowfarm/internal/xdg"
)

// Tier names.
const (
	TierSession = "session"
	TierDurable = "durable"
)

// Tier is one storage backend. Save replaces the whole key set; saving an
// empty map removes the tier's data entirely.
type Tier interface {
	Name() string
	Load() (map[string]string, error)
	Save(map[string]string) error
}

// MemoryTier keeps keys in process memory.
type MemoryTier struct {
	name string
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{name: name, data: map[string]string{}}
}

// Name implements Tier.
func (t *MemoryTier) Name() string { return t.name }

// Load implements Tier.
func (t *MemoryTier) Load() (map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.data), nil
}

// Save implements Tier.
func (t *MemoryTier) Save(data map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = maps.Clone(data)
	if t.data == nil {
		t.data = map[string]string{}
	}
	return nil
}

// Set writes a single key. Tests use it to seed legacy or foreign data.
func (t *MemoryTier) Set(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = value
}

// FileTier persists keys as a JSON object in a single 0600 file.
type FileTier struct {
	name string
	path string
}

// NewFileTier creates a tier backed by path. The file and its directory
// are created on first Save.
func NewFileTier(name, path string) *FileTier {
	return &FileTier{name: name, path: path}
}

// Name implements Tier.
func (t *FileTier) Name() string { return t.name }

// Path returns the backing file path.
func (t *FileTier) Path() string { return t.path }

// Load implements Tier. A missing file is an empty tier.
func (t *FileTier) Load() (map[string]string, error) {
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, oops.Code("TOKENSTORE_READ_FAILED").With("tier", t.name).With("path", t.path).Wrap(err)
	}

	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, oops.Code("TOKENSTORE_CORRUPT").With("tier", t.name).With("path", t.path).Wrap(err)
	}
	return data, nil
}

// Save implements Tier. The write goes through a temp file and rename so a
// crash never leaves a half-written record.
func (t *FileTier) Save(data map[string]string) error {
	if len(data) == 0 {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).With("path", t.path).Wrap(err)
		}
		return nil
	}

	dir := filepath.Dir(t.path)
	if err := xdg.EnsureDir(dir); err != nil {
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).Wrap(err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).Wrap(err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).With("path", t.path).Wrap(err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).Wrap(err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).Wrap(err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return oops.Code("TOKENSTORE_WRITE_FAILED").With("tier", t.name).With("path", t.path).Wrap(err)
	}
	return nil
}

// DefaultSessionPath is where the CLI keeps the session tier. The runtime
// dir is cleared when the OS login session ends.
func DefaultSessionPath() string {
	return filepath.Join(xdg.RuntimeDir(), "session.json")
}

// DefaultDurablePath is where the CLI keeps the durable tier.
func DefaultDurablePath() string {
	return filepath.Join(xdg.StateDir(), "credentials.json")
}
