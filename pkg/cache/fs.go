package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// fsTier stores entries as JSON files named by the key id. Writes go through
// a temp file and rename so concurrent readers never observe partial JSON.
type fsTier struct {
	dir  string
	hits atomic.Int64
}

func newFSTier(dir string) (*fsTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &fsTier{dir: dir}, nil
}

func (f *fsTier) path(key Key) string {
	return filepath.Join(f.dir, key.ID()+".json")
}

func (f *fsTier) Get(_ context.Context, key Key) (*Entry, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt file is a miss; the next Set overwrites it.
		return nil, ErrMiss
	}
	f.hits.Add(1)
	return &entry, nil
}

func (f *fsTier) Set(_ context.Context, key Key, entry *Entry) error {
	// The file carries the module id so module-scoped invalidation can match
	// without reversing the hashed file name.
	stamped := *entry
	stamped.ModuleID = key.ModuleID
	data, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, "entry.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage cache entry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

func (f *fsTier) InvalidateProtocol(_ context.Context, protocolID string) (int, error) {
	return f.removeMatching(func(e *Entry) bool { return e.ProtocolID == protocolID })
}

func (f *fsTier) InvalidateModule(_ context.Context, moduleID string) (int, error) {
	return f.removeMatching(func(e *Entry) bool { return e.ModuleID == moduleID })
}

func (f *fsTier) removeMatching(match func(*Entry) bool) (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache directory: %w", err)
	}
	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(f.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil || !match(&entry) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (f *fsTier) stats() (TierStats, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return TierStats{}, err
	}
	var st TierStats
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		st.Entries++
		if info, err := de.Info(); err == nil {
			st.Bytes += info.Size()
		}
	}
	st.HitCount = f.hits.Load()
	return st, nil
}
