// Package storage implements the relay's three durable components:
// CredentialStore, MessageSpool, and FileRegistry. All three share one
// embedded ordered key-value engine (github.com/cockroachdb/pebble) and
// encode every record as JSON.
package storage

import "time"

// User is an account holder.
type User struct {
	UserID       string     `json:"user_id"`
	KeyHash      string     `json:"key_hash"`
	DisplayName  string     `json:"display_name,omitempty"`
	AvatarFileID string     `json:"avatar_file_id,omitempty"`
	PublicKey    string     `json:"public_key,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// Device is a client device registered to a user.
type Device struct {
	DeviceID     string    `json:"device_id"`
	UserID       string    `json:"user_id"`
	DeviceName   string    `json:"device_name"`
	DeviceType   string    `json:"device_type"`
	PublicKey    string    `json:"public_key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	PushToken    string    `json:"push_token,omitempty"`
}

// Session is an active login. TokenHash is the primary key.
type Session struct {
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsValid   bool      `json:"is_valid"`
}

// MessageKind enumerates MessageEnvelope.message_type values.
type MessageKind string

const (
	MessageKindText            MessageKind = "text"
	MessageKindVoice           MessageKind = "voice"
	MessageKindVideo           MessageKind = "video"
	MessageKindFile            MessageKind = "file"
	MessageKindImage           MessageKind = "image"
	MessageKindCallSignal      MessageKind = "call_signal"
	MessageKindKeyExchange     MessageKind = "key_exchange"
	MessageKindReadReceipt     MessageKind = "read_receipt"
	MessageKindTypingIndicator MessageKind = "typing_indicator"
	MessageKindDeviceSync      MessageKind = "device_sync"
)

// PendingEnvelope is a message spooled for offline delivery.
type PendingEnvelope struct {
	MessageID         string      `json:"message_id"`
	SenderID          string      `json:"sender_id"`
	RecipientID       string      `json:"recipient_id"`
	RecipientDeviceID string      `json:"recipient_device_id,omitempty"`
	EncryptedContent  string      `json:"encrypted_content"`
	MessageType       MessageKind `json:"message_type"`
	Timestamp         int64       `json:"timestamp"`
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
}

// FileRecord is uploaded-file metadata. Payload bytes live outside
// this package, addressed by FileID (see DESIGN.md / api/http for the blob
// store).
type FileRecord struct {
	FileID              string    `json:"file_id"`
	UploaderID          string    `json:"uploader_id"`
	FileName            string    `json:"file_name"`
	FileSize            int64     `json:"file_size"`
	MimeType            string    `json:"mime_type"`
	EncryptionKeyHash   string    `json:"encryption_key_hash"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	DownloadCount       int64     `json:"download_count"`
}
