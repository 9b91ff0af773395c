package storage

import (
	"errors"
	"testing"
	"time"
)

func newFileRecord(id, uploader string, now time.Time) FileRecord {
	return FileRecord{
		FileID:            id,
		UploaderID:        uploader,
		FileName:          "photo.jpg",
		FileSize:          1024,
		MimeType:          "image/jpeg",
		EncryptionKeyHash: "deadbeef",
		CreatedAt:         now,
		ExpiresAt:         now.Add(7 * 24 * time.Hour),
	}
}

func TestFileMetadataRoundtrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	rec := newFileRecord("f1", "alice", now)
	if err := s.CreateFileMetadata(rec); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	got, err := s.GetFileMetadata("f1")
	if err != nil {
		t.Fatalf("GetFileMetadata: %v", err)
	}
	if got.FileName != "photo.jpg" || got.UploaderID != "alice" {
		t.Fatalf("got %+v", got)
	}
}

func TestGetFileMetadataExpired(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	rec := newFileRecord("f1", "alice", now.Add(-30*24*time.Hour))
	rec.ExpiresAt = now.Add(-time.Hour)
	if err := s.CreateFileMetadata(rec); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	if _, err := s.GetFileMetadata("f1"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestIncrementDownloadCount(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	if err := s.CreateFileMetadata(newFileRecord("f1", "alice", now)); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	if err := s.IncrementDownloadCount("f1"); err != nil {
		t.Fatalf("IncrementDownloadCount: %v", err)
	}
	if err := s.IncrementDownloadCount("f1"); err != nil {
		t.Fatalf("IncrementDownloadCount: %v", err)
	}
	got, err := s.GetFileMetadata("f1")
	if err != nil {
		t.Fatalf("GetFileMetadata: %v", err)
	}
	if got.DownloadCount != 2 {
		t.Fatalf("got download count %d, want 2", got.DownloadCount)
	}
}

func TestDeleteFileMetadataRequiresUploader(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	if err := s.CreateFileMetadata(newFileRecord("f1", "alice", now)); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	if err := s.DeleteFileMetadata("f1", "mallory"); !errors.Is(err, ErrNotUploader) {
		t.Fatalf("got %v, want ErrNotUploader", err)
	}
	if err := s.DeleteFileMetadata("f1", "alice"); err != nil {
		t.Fatalf("DeleteFileMetadata: %v", err)
	}
	if _, err := s.GetFileMetadata("f1"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("got %v, want ErrFileNotFound after delete", err)
	}
}

func TestReapExpiredFiles(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	expired := newFileRecord("old", "alice", now.Add(-30*24*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	fresh := newFileRecord("new", "alice", now)

	if err := s.CreateFileMetadata(expired); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	if err := s.CreateFileMetadata(fresh); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}

	ids, err := s.ReapExpiredFiles(now)
	if err != nil {
		t.Fatalf("ReapExpiredFiles: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("got %v, want [old]", ids)
	}
	if _, err := s.GetFileMetadata("new"); err != nil {
		t.Fatalf("expected fresh file to survive: %v", err)
	}
}
