package cache

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/projectconfig"
)

const (
	DefaultMaxEntries = 1000
	DefaultTTL        = time.Hour
)

// CorruptionError reports broken cache bookkeeping. Callers treat it as fatal.
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string {
	return "judge cache corrupted: " + e.Detail
}

// Options configures a Store.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	// Persistent enables the badger tier. An empty Dir keeps it in memory.
	Persistent bool
	Dir        string
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store holds judge results keyed by Fingerprint, in memory and optionally on disk.
type Store struct {
	mem    *lruCache
	disk   *diskCache
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Store. Zero values in opts select the defaults.
func New(opts Options) (*Store, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	s := &Store{mem: newLRUCache(opts.MaxEntries, opts.TTL)}
	if opts.Persistent {
		disk, err := openDiskCache(opts.Dir, opts.TTL)
		if err != nil {
			return nil, err
		}
		s.disk = disk
	}
	return s, nil
}

// FromConfig builds a Store from the cache section of the project config. It returns nil when
// caching is disabled.
func FromConfig(cfg *projectconfig.ProjectConfig) (*Store, error) {
	if cfg.Cache.Enabled != nil && !*cfg.Cache.Enabled {
		return nil, nil
	}
	opts := Options{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.CacheTTL(),
	}
	if cfg.Cache.BadgerDir != "" {
		opts.Persistent = true
		opts.Dir = cfg.Path(cfg.Cache.BadgerDir)
	}
	return New(opts)
}

// Get looks up key in memory, then on disk. A disk hit is promoted into memory. Disk read
// failures are logged and count as misses.
func (s *Store) Get(key string) (*models.JudgeResult, bool) {
	if res, ok := s.mem.get(key); ok {
		s.hits.Add(1)
		metrics.JudgeCacheLookups.WithLabelValues("memory", "hit").Inc()
		return res, true
	}
	metrics.JudgeCacheLookups.WithLabelValues("memory", "miss").Inc()

	if s.disk != nil {
		res, ok, err := s.disk.get(key)
		switch {
		case err != nil:
			slog.Warn("Judge cache read failed", "error", err)
		case ok:
			s.hits.Add(1)
			metrics.JudgeCacheLookups.WithLabelValues("disk", "hit").Inc()
			s.mem.set(key, res)
			return res, true
		default:
			metrics.JudgeCacheLookups.WithLabelValues("disk", "miss").Inc()
		}
	}

	s.misses.Add(1)
	return nil, false
}

// Put stores res under key in every tier.
func (s *Store) Put(key string, res *models.JudgeResult) error {
	stored := res.Clone()
	stored.Cached = false
	s.mem.set(key, stored)
	if s.disk != nil {
		if err := s.disk.set(key, stored); err != nil {
			return fmt.Errorf("persisting judge result: %w", err)
		}
	}
	return nil
}

// Clear empties both tiers.
func (s *Store) Clear() error {
	s.mem.clear()
	if s.disk != nil {
		return s.disk.clear()
	}
	return nil
}

// Verify checks the memory tier's internal consistency.
func (s *Store) Verify() error {
	return s.mem.verify()
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.mem.evictionCount(),
		Entries:   s.mem.len(),
	}
}

func (s *Store) Close() error {
	if s.disk != nil {
		return s.disk.close()
	}
	return nil
}
