package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrFileNotFound is returned by GetFileMetadata for an unknown or expired
// file id.
var ErrFileNotFound = errors.New("storage: file not found")

// ErrNotUploader is returned by DeleteFileMetadata when the caller does not
// own the file.
var ErrNotUploader = errors.New("storage: caller did not upload this file")

// CreateFileMetadata inserts a new FileRecord.
func (s *Store) CreateFileMetadata(rec FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setJSON(keyFile(rec.FileID), &rec)
}

// GetFileMetadata returns the record for fileID, or ErrFileNotFound if it is
// absent or past its expires_at.
func (s *Store) GetFileMetadata(fileID string) (FileRecord, error) {
	var rec FileRecord
	found, err := s.getJSON(keyFile(fileID), &rec)
	if err != nil {
		return FileRecord{}, err
	}
	if !found || time.Now().UTC().After(rec.ExpiresAt) {
		return FileRecord{}, ErrFileNotFound
	}
	return rec, nil
}

// IncrementDownloadCount bumps a file's download_count by one.
func (s *Store) IncrementDownloadCount(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.GetFileMetadata(fileID)
	if err != nil {
		return err
	}
	rec.DownloadCount++
	return s.setJSON(keyFile(fileID), &rec)
}

// DeleteFileMetadata removes a file record, but only on behalf of its
// uploader (delete is uploader-only).
func (s *Store) DeleteFileMetadata(fileID, callerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.GetFileMetadata(fileID)
	if err != nil {
		return err
	}
	if rec.UploaderID != callerUserID {
		return ErrNotUploader
	}
	return s.delete(keyFile(fileID))
}

// ReapExpiredFiles deletes every file record whose expires_at has passed.
// It returns the deleted file ids so the caller can also remove the backing
// blobs.
func (s *Store) ReapExpiredFiles(now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	if err := s.iteratePrefix(prefixAllFiles(), func(_, value []byte) error {
		var rec FileRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if now.After(rec.ExpiresAt) {
			expired = append(expired, rec.FileID)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, fileID := range expired {
		if err := s.delete(keyFile(fileID)); err != nil {
			return nil, err
		}
	}
	return expired, nil
}
