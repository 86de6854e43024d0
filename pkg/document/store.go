package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrDocumentNotFound = errors.New("document not found")

// Store keeps original PDFs on disk, one file per protocol, named by the
// protocol id. Writes are atomic (temp file + rename) so readers never see a
// partial document.
type Store struct {
	root string
}

// NewStore creates the storage root if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document store at %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Path returns where the protocol's PDF lives (whether or not it exists).
func (s *Store) Path(protocolID string) string {
	return filepath.Join(s.root, protocolID+".pdf")
}

// Save writes the document atomically. Saving the same bytes twice is a no-op
// in effect; the rename simply replaces the identical file.
func (s *Store) Save(protocolID string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, protocolID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close staged document: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(protocolID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}

// Read returns the stored bytes for a protocol.
func (s *Store) Read(protocolID string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(protocolID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, protocolID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", protocolID, err)
	}
	return data, nil
}
