package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// ProtocolService ingests and serves protocol PDFs. Content is deduplicated
// on the SHA-256 hash: uploading identical bytes returns the existing row.
type ProtocolService struct {
	pool *pgxpool.Pool
}

func NewProtocolService(pool *pgxpool.Pool) *ProtocolService {
	return &ProtocolService{pool: pool}
}

// Create ingests a PDF. The bytes are inspected for page count, hashed, and
// stored. A duplicate upload returns the existing protocol with created
// false.
func (s *ProtocolService) Create(ctx context.Context, filename string, data []byte) (*models.Protocol, bool, error) {
	info, err := document.Inspect(data)
	if err != nil {
		return nil, false, err
	}
	hash := document.Hash(data)

	if existing, err := s.GetByHash(ctx, hash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	p := &models.Protocol{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
		PageCount:   info.PageCount,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO protocols (protocol_id, filename, content, content_hash, size_bytes, page_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO UPDATE SET updated_at = now()
		RETURNING protocol_id, created_at, updated_at`,
		p.ID, filename, data, hash, p.SizeBytes, p.PageCount,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create protocol: %w", err)
	}
	// The RETURNING id differs from ours when a concurrent upload won.
	created := p.CreatedAt.Equal(p.UpdatedAt)
	return p, created, nil
}

// Get returns one protocol's metadata (no content bytes).
func (s *ProtocolService) Get(ctx context.Context, id string) (*models.Protocol, error) {
	return s.scanOne(s.pool.QueryRow(ctx, protocolColumns+` WHERE protocol_id = $1`, id))
}

// GetByHash returns the protocol with the given content hash.
func (s *ProtocolService) GetByHash(ctx context.Context, hash string) (*models.Protocol, error) {
	return s.scanOne(s.pool.QueryRow(ctx, protocolColumns+` WHERE content_hash = $1`, hash))
}

// List returns all protocols, newest first.
func (s *ProtocolService) List(ctx context.Context) ([]*models.Protocol, error) {
	rows, err := s.pool.Query(ctx, protocolColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocols: %w", err)
	}
	defer rows.Close()

	var out []*models.Protocol
	for rows.Next() {
		p, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Content returns the stored PDF bytes.
func (s *ProtocolService) Content(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT content FROM protocols WHERE protocol_id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: protocol %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol content: %w", err)
	}
	return data, nil
}

// UpdateRemoteHandle records a refreshed provider file handle.
func (s *ProtocolService) UpdateRemoteHandle(ctx context.Context, id, uri string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE protocols SET remote_uri = $2, remote_expires_at = $3, updated_at = now()
		WHERE protocol_id = $1`, id, uri, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update remote handle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: protocol %s", ErrNotFound, id)
	}
	return nil
}

const protocolColumns = `
	SELECT protocol_id, filename, content_hash, size_bytes, page_count,
	       remote_uri, remote_expires_at, created_at, updated_at
	FROM protocols`

func (s *ProtocolService) scanOne(row pgx.Row) (*models.Protocol, error) {
	var p models.Protocol
	err := row.Scan(&p.ID, &p.Filename, &p.ContentHash, &p.SizeBytes, &p.PageCount,
		&p.RemoteURI, &p.RemoteExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan protocol: %w", err)
	}
	return &p, nil
}
