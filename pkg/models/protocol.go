// Package models defines the domain records shared by the services layer,
// the pipeline workers, and the HTTP API. Records are plain structs keyed by
// opaque ids; relationships are expressed by id references only.
package models

import "time"

// Protocol is an ingested clinical-trial protocol PDF.
// Content is immutable after upload; two uploads with the same content hash
// resolve to the same protocol row.
type Protocol struct {
	ID          string
	Filename    string
	ContentHash string // SHA-256, 64 hex chars
	SizeBytes   int64
	PageCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Cached remote-file handle (LLM provider Files API). Refreshed on
	// demand when expired; never required to be present.
	RemoteURI       string
	RemoteExpiresAt *time.Time
}

// RemoteHandleValid reports whether the cached remote-file handle can still
// be used at the given instant.
func (p *Protocol) RemoteHandleValid(now time.Time) bool {
	return p.RemoteURI != "" && p.RemoteExpiresAt != nil && p.RemoteExpiresAt.After(now)
}
