package relay

import (
	"time"

	"github.com/privmsg/relay/storage"
)

// MessageEnvelope is the wire shape of a message frame's payload.
type MessageEnvelope struct {
	MessageID         string             `json:"message_id"`
	SenderID          string             `json:"sender_id"`
	RecipientID       string             `json:"recipient_id"`
	RecipientDeviceID string             `json:"recipient_device_id,omitempty"`
	EncryptedContent  string             `json:"encrypted_content"`
	MessageType       storage.MessageKind `json:"message_type"`
	Timestamp         int64              `json:"timestamp"`
}

// toPending converts a wire envelope into the durable record the spool
// stores, attaching server-side bookkeeping fields. Timestamp is passed
// through unchanged: it is client-supplied and the server never rewrites
// it, so a message's timestamp is identical whether the recipient was
// online (delivered straight from this envelope) or offline (delivered
// later from the spool).
func (e MessageEnvelope) toPending(now time.Time, maxAge time.Duration) storage.PendingEnvelope {
	return storage.PendingEnvelope{
		MessageID:         e.MessageID,
		SenderID:          e.SenderID,
		RecipientID:       e.RecipientID,
		RecipientDeviceID: e.RecipientDeviceID,
		EncryptedContent:  e.EncryptedContent,
		MessageType:       e.MessageType,
		Timestamp:         e.Timestamp,
		CreatedAt:         now,
		ExpiresAt:         now.Add(maxAge),
	}
}

// EnvelopeFromPending converts a durably stored envelope back into its wire
// shape. Exported for the HTTP pending-messages endpoint, which reads the
// same spool the session replays from on authenticate.
func EnvelopeFromPending(p storage.PendingEnvelope) MessageEnvelope {
	return envelopeFromPending(p)
}

func envelopeFromPending(p storage.PendingEnvelope) MessageEnvelope {
	return MessageEnvelope{
		MessageID:         p.MessageID,
		SenderID:          p.SenderID,
		RecipientID:       p.RecipientID,
		RecipientDeviceID: p.RecipientDeviceID,
		EncryptedContent:  p.EncryptedContent,
		MessageType:       p.MessageType,
		Timestamp:         p.Timestamp,
	}
}

// CallSignal is the wire shape of a call_signal frame's payload. signal_type
// is an opaque tag ("offer", "answer", "ice_candidate", "hangup", ...);
// payload carries the signaling blob (SDP, ICE candidate, …) as an opaque
// string the relay never inspects.
type CallSignal struct {
	CallID      string `json:"call_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	SignalType  string `json:"signal_type"`
	Payload     string `json:"payload,omitempty"`
}

// AuthenticatePayload is the authenticate frame's payload.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AckPayload is the ack frame's payload, sent by either party:
// client -> server acknowledges receipt (server deletes from the spool, replies ack);
// server -> client reports which message_ids were accepted.
type AckPayload struct {
	MessageIDs []string `json:"message_ids"`
}

// TypingPayload is the typing frame's payload.
type TypingPayload struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

// PresencePayload is the presence frame's payload.
type PresencePayload struct {
	Status string `json:"status"`
}

// ErrorPayload is the error frame's payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserPresenceEventPayload is the user_online / user_offline frame's payload.
type UserPresenceEventPayload struct {
	UserID string `json:"user_id"`
}
