package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// Handles remote-file lifecycle on the LLM provider. Provider handles expire
// (typically after 48h), so every use checks freshness and re-uploads when
// the cached handle is stale or about to be.
type RemoteManager struct {
	uploader llm.Uploader
	store    *Store

	// persist records a refreshed handle so later jobs reuse it.
	persist func(ctx context.Context, protocolID, uri string, expiresAt time.Time) error

	// safety margin: a handle expiring inside this window counts as stale,
	// so a long pipeline run never loses its file mid-flight.
	margin time.Duration
}

func NewRemoteManager(uploader llm.Uploader, store *Store,
	persist func(ctx context.Context, protocolID, uri string, expiresAt time.Time) error) *RemoteManager {
	return &RemoteManager{
		uploader: uploader,
		store:    store,
		persist:  persist,
		margin:   2 * time.Hour,
	}
}

// EnsureRemote returns a usable remote URI for the protocol, reusing the
// cached handle when fresh and re-uploading otherwise.
func (m *RemoteManager) EnsureRemote(ctx context.Context, protocol *models.Protocol) (string, error) {
	if protocol.RemoteHandleValid(time.Now().Add(m.margin)) {
		return protocol.RemoteURI, nil
	}

	data, err := m.store.Read(protocol.ID)
	if err != nil {
		return "", err
	}

	uri, expiresAt, err := m.uploader.Upload(ctx, data, PDFMIMEType, protocol.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to upload protocol %s: %w", protocol.ID, err)
	}
	slog.Info("Uploaded protocol to provider",
		"protocol_id", protocol.ID, "uri", uri, "expires_at", expiresAt)

	protocol.RemoteURI = uri
	protocol.RemoteExpiresAt = &expiresAt
	if m.persist != nil {
		if err := m.persist(ctx, protocol.ID, uri, expiresAt); err != nil {
			// The handle still works for this run; losing the cached row only
			// costs a re-upload later.
			slog.Warn("Failed to persist remote handle", "protocol_id", protocol.ID, "error", err)
		}
	}
	return uri, nil
}
