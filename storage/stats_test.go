package storage

import (
	"testing"
	"time"
)

func TestStatsAggregatesAcrossEntities(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateUser("alice", "hash1"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser("bob", "hash2"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.DeleteUser("bob"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	now := time.Now().UTC()
	if err := s.StorePending(PendingEnvelope{
		MessageID:        "m1",
		SenderID:         "alice",
		RecipientID:      "alice",
		EncryptedContent: "x",
		MessageType:      MessageKindText,
		Timestamp:        now.Unix(),
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("StorePending: %v", err)
	}

	if err := s.CreateFileMetadata(FileRecord{
		FileID:     "f1",
		UploaderID: "alice",
		FileName:   "a.bin",
		FileSize:   1024,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}
	if err := s.CreateFileMetadata(FileRecord{
		FileID:     "f2-expired",
		UploaderID: "alice",
		FileName:   "b.bin",
		FileSize:   2048,
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("CreateFileMetadata: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Users != 1 {
		t.Fatalf("Users = %d, want 1 (DeleteUser should remove bob's row)", stats.Users)
	}
	if stats.ActiveUsers != 1 {
		t.Fatalf("ActiveUsers = %d, want 1", stats.ActiveUsers)
	}
	if stats.PendingMessages != 1 {
		t.Fatalf("PendingMessages = %d, want 1", stats.PendingMessages)
	}
	if stats.Files != 1 {
		t.Fatalf("Files = %d, want 1 (expired file must be excluded)", stats.Files)
	}
	if stats.TotalFileBytes != 1024 {
		t.Fatalf("TotalFileBytes = %d, want 1024", stats.TotalFileBytes)
	}
}
