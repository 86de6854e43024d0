package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
)

// LookupObserver receives the outcome of every per-tier lookup.
type LookupObserver interface {
	CacheLookup(tier string, hit bool)
}

// Tiered is the production cache: database first, filesystem second. Either
// tier may be absent. A DB hit is served directly; an FS hit is promoted into
// the DB so later lookups stay in the faster shared tier.
type Tiered struct {
	db *dbTier
	fs *fsTier

	// Observer, when set, is notified of every tier lookup.
	Observer LookupObserver
}

// NewTiered builds the cache from configuration. The DB tier requires a pool;
// the FS tier degrades to disabled when its directory cannot be created.
func NewTiered(cfg *config.CacheConfig, pool *pgxpool.Pool) *Tiered {
	t := &Tiered{}
	if cfg.DatabaseTier && pool != nil {
		t.db = newDBTier(pool)
	}
	if cfg.Directory != "" {
		fs, err := newFSTier(cfg.Directory)
		if err != nil {
			slog.Warn("Filesystem cache tier disabled", "dir", cfg.Directory, "error", err)
		} else {
			t.fs = fs
		}
	}
	return t
}

func (t *Tiered) Get(ctx context.Context, key Key) (*Entry, error) {
	if t.db != nil {
		entry, err := t.db.Get(ctx, key)
		t.observe("database", err == nil)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrMiss) {
			slog.Warn("Database cache tier error, falling through", "error", err)
		}
	}
	if t.fs != nil {
		entry, err := t.fs.Get(ctx, key)
		t.observe("filesystem", err == nil)
		if err == nil {
			if t.db != nil {
				if perr := t.db.Set(ctx, key, entry); perr != nil {
					slog.Warn("Cache promotion failed", "error", perr)
				}
			}
			return entry, nil
		}
		if !errors.Is(err, ErrMiss) {
			slog.Warn("Filesystem cache tier error", "error", err)
		}
	}
	return nil, ErrMiss
}

func (t *Tiered) observe(tier string, hit bool) {
	if t.Observer != nil {
		t.Observer.CacheLookup(tier, hit)
	}
}

// Set writes to every available tier. A tier failure is logged, not fatal:
// the cache is an accelerator, never a correctness dependency.
func (t *Tiered) Set(ctx context.Context, key Key, entry *Entry) error {
	var firstErr error
	if t.db != nil {
		if err := t.db.Set(ctx, key, entry); err != nil {
			slog.Warn("Database cache write failed", "error", err)
			firstErr = err
		}
	}
	if t.fs != nil {
		if err := t.fs.Set(ctx, key, entry); err != nil {
			slog.Warn("Filesystem cache write failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Tiered) InvalidateProtocol(ctx context.Context, protocolID string) (int, error) {
	total := 0
	if t.db != nil {
		n, err := t.db.InvalidateProtocol(ctx, protocolID)
		if err != nil {
			return total, err
		}
		total += n
	}
	if t.fs != nil {
		n, err := t.fs.InvalidateProtocol(ctx, protocolID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *Tiered) InvalidateModule(ctx context.Context, moduleID string) (int, error) {
	total := 0
	if t.db != nil {
		n, err := t.db.InvalidateModule(ctx, moduleID)
		if err != nil {
			return total, err
		}
		total += n
	}
	if t.fs != nil {
		n, err := t.fs.InvalidateModule(ctx, moduleID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *Tiered) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if t.db != nil {
		st, err := t.db.stats(ctx)
		if err != nil {
			return nil, err
		}
		stats.Database.Enabled = true
		stats.Database.TierStats = st
	}
	if t.fs != nil {
		st, err := t.fs.stats()
		if err != nil {
			return nil, err
		}
		stats.Filesystem.Enabled = true
		stats.Filesystem.TierStats = st
	}
	return &stats, nil
}

var _ Cache = (*Tiered)(nil)
