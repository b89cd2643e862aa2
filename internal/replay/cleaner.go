package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"duelforge/engine/internal/logging"
)

// RetentionPolicy bounds how many match bundles Writer's output directory
// keeps on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of retained match bundles, for
// internal/httpapi's metrics endpoint.
type StorageStats struct {
	Matches   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes match bundle directories produced by Writer
// according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the directory a Writer persists match
// bundles under (replay.NewWriter's root, not an individual bundle folder).
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps on interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep once eagerly so retention applies immediately on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// bundle is one match's on-disk footprint: the directory Writer created,
// named "<matchID>-<timestamp>" and holding manifest.json, header.json,
// events.jsonl.sz, and summary.json.zst.
type bundle struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		if shouldRemove, reason := c.shouldRemove(b, now, kept); shouldRemove {
			if err := os.RemoveAll(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", b.path))
				stats.Matches++
				stats.Bytes += b.size
				kept++
				continue
			}
			c.log.Info("replay retention removed match bundle", logging.String("bundle", b.path), logging.String("reason", reason))
			continue
		}
		kept++
		stats.Matches++
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect resolves each top-level entry under c.dir to a bundle, newest
// first so retention limits favour recently completed matches. A bundle may
// be either the directory Writer creates or a stray loose file left behind
// by an older layout; both are swept identically.
func (c *Cleaner) collect(entries []os.DirEntry) []bundle {
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size := info.Size()
		if entry.IsDir() {
			size, err = directorySize(path)
			if err != nil {
				c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
				continue
			}
		}
		bundles = append(bundles, bundle{path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(b bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d matches", c.policy.MaxMatches))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
