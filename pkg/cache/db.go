package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbTier stores entries in the extraction_cache table. A hit bumps hit_count
// and accessed_at in the same statement as the read, so stats never drift
// from reality.
type dbTier struct {
	pool *pgxpool.Pool
}

func newDBTier(pool *pgxpool.Pool) *dbTier {
	return &dbTier{pool: pool}
}

func (d *dbTier) Get(ctx context.Context, key Key) (*Entry, error) {
	var (
		data       []byte
		quality    []byte
		protocolID *string
	)
	err := d.pool.QueryRow(ctx, `
		UPDATE extraction_cache
		SET hit_count = hit_count + 1, accessed_at = now()
		WHERE source_hash = $1 AND module_id = $2 AND model_id = $3 AND prompt_hash = $4
		RETURNING data, quality, protocol_id`,
		key.SourceHash, key.ModuleID, key.ModelID, key.PromptHash,
	).Scan(&data, &quality, &protocolID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	entry := &Entry{Data: data}
	if err := json.Unmarshal(quality, &entry.Quality); err != nil {
		return nil, fmt.Errorf("cache entry has corrupt quality payload: %w", err)
	}
	if protocolID != nil {
		entry.ProtocolID = *protocolID
	}
	return entry, nil
}

func (d *dbTier) Set(ctx context.Context, key Key, entry *Entry) error {
	quality, err := json.Marshal(entry.Quality)
	if err != nil {
		return fmt.Errorf("failed to encode quality: %w", err)
	}
	var protocolID *string
	if entry.ProtocolID != "" {
		protocolID = &entry.ProtocolID
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO extraction_cache (id, source_hash, module_id, model_id, prompt_hash, data, quality, protocol_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_hash, module_id, model_id, prompt_hash)
		DO UPDATE SET data = EXCLUDED.data, quality = EXCLUDED.quality,
		              protocol_id = EXCLUDED.protocol_id, accessed_at = now()`,
		key.ID(), key.SourceHash, key.ModuleID, key.ModelID, key.PromptHash,
		[]byte(entry.Data), quality, protocolID)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

func (d *dbTier) InvalidateProtocol(ctx context.Context, protocolID string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM extraction_cache WHERE protocol_id = $1`, protocolID)
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (d *dbTier) InvalidateModule(ctx context.Context, moduleID string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM extraction_cache WHERE module_id = $1`, moduleID)
	if err != nil {
		return 0, fmt.Errorf("cache invalidation failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (d *dbTier) stats(ctx context.Context) (TierStats, error) {
	var st TierStats
	err := d.pool.QueryRow(ctx, `
		SELECT count(*),
		       COALESCE(sum(length(data::text)), 0),
		       COALESCE(sum(hit_count), 0)
		FROM extraction_cache`).Scan(&st.Entries, &st.Bytes, &st.HitCount)
	if err != nil {
		return TierStats{}, fmt.Errorf("cache stats query failed: %w", err)
	}
	return st, nil
}
