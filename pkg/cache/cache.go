// Package cache implements the content-addressed extraction cache. An entry
// is keyed by the full closure of an extraction: source document hash, module
// id, model id, and a hash over every prompt and schema involved. Any change
// to any input produces a different key, so invalidation is automatic.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// Key is the closure of one module extraction.
type Key struct {
	SourceHash string // SHA-256 of the PDF bytes
	ModuleID   string
	ModelID    string
	PromptHash string // SHA-256 over pass1 + pass2 + schema texts
}

// PromptHash hashes the prompt closure. Length prefixes keep distinct
// (pass1, pass2, schema) triples from colliding under concatenation.
func PromptHash(pass1, pass2, schema string) string {
	h := sha256.New()
	for _, s := range []string{pass1, pass2, schema} {
		var lenBuf [8]byte
		n := len(s)
		for i := 7; i >= 0; i-- {
			lenBuf[i] = byte(n)
			n >>= 8
		}
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ID returns a single stable identifier for the key, used as the FS filename
// and the DB primary key.
func (k Key) ID() string {
	h := sha256.New()
	for _, s := range []string{k.SourceHash, k.ModuleID, k.ModelID, k.PromptHash} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a cached extraction result with the quality it scored when first
// produced. Cached entries are returned as-is; they already passed through
// post-processing once.
type Entry struct {
	Data    json.RawMessage     `json:"data"`
	Quality models.QualityScore `json:"quality"`

	// ProtocolID and ModuleID record where the entry came from, for targeted
	// invalidation. Informational only; neither is part of the key.
	ProtocolID string `json:"protocol_id,omitempty"`
	ModuleID   string `json:"module_id,omitempty"`
}

// TierStats describes one tier's contents.
type TierStats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	HitCount int64 `json:"hit_count"`
}

// Stats reports both tiers independently. A disabled or degraded tier
// reports zeros with Enabled false.
type Stats struct {
	Database struct {
		Enabled bool `json:"enabled"`
		TierStats
	} `json:"database"`
	Filesystem struct {
		Enabled bool `json:"enabled"`
		TierStats
	} `json:"filesystem"`
}

// Cache is the extraction cache contract. Implementations must treat Get
// misses as normal control flow, not errors worth logging.
type Cache interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, key Key, entry *Entry) error
	// InvalidateProtocol drops every entry recorded against the protocol.
	InvalidateProtocol(ctx context.Context, protocolID string) (int, error)
	// InvalidateModule drops every entry recorded against the module id,
	// regardless of protocol. Prompt edits change the key and so miss
	// naturally; this reclaims the entries the old prompts left behind.
	InvalidateModule(ctx context.Context, moduleID string) (int, error)
	Stats(ctx context.Context) (*Stats, error)
}
