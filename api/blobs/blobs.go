// Package blobs stores uploaded file payload bytes on disk, addressed by
// file id. The database row (storage.FileRecord) is authoritative for
// existence; this package only holds bytes.
package blobs

import (
	"os"
	"path/filepath"

	"github.com/privmsg/relay/internal/securefile"
)

// Store reads and writes file payloads under a root directory.
type Store struct {
	root string
}

// Open ensures root exists (owner-only permissions) and returns a Store
// rooted there.
func Open(root string) (*Store, error) {
	if err := securefile.MkdirAllOwnerOnly(root); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) path(fileID string) string {
	return filepath.Join(s.root, filepath.Base(fileID))
}

// Write stores data under fileID, atomically.
func (s *Store) Write(fileID string, data []byte) error {
	return securefile.WriteFileAtomic(s.path(fileID), data, 0o600)
}

// Read returns the bytes stored under fileID.
func (s *Store) Read(fileID string) ([]byte, error) {
	return os.ReadFile(s.path(fileID))
}

// Delete removes the blob for fileID. A missing blob is not an error: the
// metadata row is authoritative, and a blob can legitimately already be gone
// (double reap, prior failed delete).
func (s *Store) Delete(fileID string) error {
	err := os.Remove(s.path(fileID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
