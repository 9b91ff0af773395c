package http

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/privmsg/relay/storage"
)

func TestMessagesPendingAndAck(t *testing.T) {
	deps := testDeps(t)
	accessKey := createTestUser(t, deps, "alice")
	token, deviceID := loginTestUser(t, deps, "alice", accessKey)

	now := time.Now().UTC()
	env := storage.PendingEnvelope{
		MessageID:        "msg-1",
		SenderID:         "bob",
		RecipientID:      "alice",
		EncryptedContent: "ciphertext",
		MessageType:      storage.MessageKindText,
		Timestamp:        now.Unix(),
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}
	if err := deps.Store.StorePending(env); err != nil {
		t.Fatalf("StorePending: %v", err)
	}

	mux := NewMux(deps)
	rec := doJSON(mux, http.MethodGet, "/api/v1/messages/pending", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var envelopes []struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelopes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelopes) != 1 || envelopes[0].MessageID != "msg-1" {
		t.Fatalf("envelopes = %+v, want one entry for msg-1", envelopes)
	}

	ackRec := doJSON(mux, http.MethodPost, "/api/v1/messages/ack", ackRequest{MessageIDs: []string{"msg-1"}}, token)
	if ackRec.Code != http.StatusOK {
		t.Fatalf("ack status = %d, body = %s", ackRec.Code, ackRec.Body.String())
	}
	var ackResp ackResponse
	if err := json.Unmarshal(ackRec.Body.Bytes(), &ackResp); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackResp.Acknowledged != 1 {
		t.Fatalf("acknowledged = %d, want 1", ackResp.Acknowledged)
	}

	// Re-fetching pending should now be empty.
	_ = deviceID
	rec2 := doJSON(mux, http.MethodGet, "/api/v1/messages/pending", nil, token)
	var envelopes2 []json.RawMessage
	if err := json.Unmarshal(rec2.Body.Bytes(), &envelopes2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelopes2) != 0 {
		t.Fatalf("expected no pending messages after ack, got %d", len(envelopes2))
	}
}
