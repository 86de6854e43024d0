// Package llm wraps the Gemini SDK behind the narrow client contract the
// extraction pipelines consume: prompt in, raw text out. JSON shaping is the
// caller's job; tolerant JSON extraction helpers live in parse.go.
package llm

import (
	"context"
	"time"
)

// Request is one generation call. FileURI, when set, references a remote
// file handle previously obtained from Upload, so large PDFs are not resent
// with every call.
type Request struct {
	Prompt       string
	FileURI      string
	FileMIMEType string

	// JSONResponse asks the provider for a JSON response MIME type. The
	// returned text is still raw; callers parse it themselves.
	JSONResponse bool

	// Model overrides the configured fallback chain when non-empty.
	Model string
}

// Client is the LLM contract consumed by the pipelines. Implementations must
// tolerate long-running calls and enforce their own per-call timeout.
type Client interface {
	// Generate produces raw text for the request, trying the configured
	// model chain in order until one succeeds.
	Generate(ctx context.Context, req Request) (string, error)

	// ModelID returns the identifier of the primary model. It participates
	// in cache keys, so it must be stable for a given configuration.
	ModelID() string
}

// Uploader manages remote file handles on the provider.
type Uploader interface {
	// Upload pushes bytes to the provider and returns the remote handle
	// URI and its expiry.
	Upload(ctx context.Context, data []byte, mimeType, displayName string) (uri string, expiresAt time.Time, err error)
}
