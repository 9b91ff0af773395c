package relay

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/realtime/registry"
	"github.com/privmsg/relay/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestSession(t *testing.T, st *storage.Store, reg *registry.Registry) *Session {
	t.Helper()
	return New(nil, Deps{
		Store:    st,
		Registry: reg,
		Observer: observability.NoopRelayObserver,
	}, DefaultConfig())
}

// popFrame drains the next queued frame from a session's outbound queue
// without blocking forever if nothing is there.
func popFrame(t *testing.T, s *Session) serverFrame {
	t.Helper()
	type result struct {
		data []byte
		ok   bool
	}
	done := make(chan result, 1)
	go func() {
		data, ok := s.out.pop()
		done <- result{data, ok}
	}()

	var r result
	select {
	case r = <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for outbound frame")
	}
	if !r.ok {
		t.Fatalf("outbound queue closed with no frame")
	}
	var f serverFrame
	if err := json.Unmarshal(r.data, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func createAuthedFixture(t *testing.T, st *storage.Store, userID, deviceID string) string {
	t.Helper()
	if _, err := st.CreateUser(userID, "hash-"+userID); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateDevice(userID, deviceID, "device", "mobile", "pubkey"); err != nil {
		t.Fatalf("create device: %v", err)
	}
	token, err := primitives.GenerateSessionToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := st.CreateSession(userID, deviceID, token, time.Hour); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return token
}

func TestHandleAuthenticateSuccessPushesPendingThenAuthenticated(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	token := createAuthedFixture(t, st, "alice", "dev1")

	if err := st.StorePending(storage.PendingEnvelope{
		MessageID:        "m1",
		SenderID:         "bob",
		RecipientID:      "alice",
		EncryptedContent: "cipher",
		MessageType:      storage.MessageKindText,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("store pending: %v", err)
	}

	s := newTestSession(t, st, reg)
	payload, _ := json.Marshal(AuthenticatePayload{Token: token})
	if !s.dispatch(nil, clientFrame{Type: "authenticate", Payload: payload}) {
		t.Fatalf("dispatch returned false")
	}

	if s.UserID() != "alice" || s.DeviceID() != "dev1" {
		t.Fatalf("got user=%q device=%q, want alice/dev1", s.UserID(), s.DeviceID())
	}
	if !reg.IsDeviceOnline("dev1") {
		t.Fatalf("expected dev1 registered online")
	}

	msgFrame := popFrame(t, s)
	if msgFrame.Type != "message" {
		t.Fatalf("got frame type %q, want message (pending replay)", msgFrame.Type)
	}
	authFrame := popFrame(t, s)
	if authFrame.Type != "authenticated" {
		t.Fatalf("got frame type %q, want authenticated", authFrame.Type)
	}
}

func TestHandleAuthenticateRejectsBadToken(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := newTestSession(t, st, reg)

	payload, _ := json.Marshal(AuthenticatePayload{Token: "not-a-real-token"})
	if !s.dispatch(nil, clientFrame{Type: "authenticate", Payload: payload}) {
		t.Fatalf("dispatch returned false")
	}
	if s.state.Load() == stateAuthed {
		t.Fatalf("session should not be authed")
	}
	errFrame := popFrame(t, s)
	if errFrame.Type != "error" {
		t.Fatalf("got frame type %q, want error", errFrame.Type)
	}
}

func TestDispatchRejectsFramesBeforeAuth(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := newTestSession(t, st, reg)

	payload, _ := json.Marshal(TypingPayload{RecipientID: "bob", IsTyping: true})
	s.dispatch(nil, clientFrame{Type: "typing", Payload: payload})

	f := popFrame(t, s)
	if f.Type != "error" {
		t.Fatalf("expected unauthenticated frame to be rejected, got %q", f.Type)
	}
}

func authedSession(t *testing.T, st *storage.Store, reg *registry.Registry, userID, deviceID string) *Session {
	t.Helper()
	token := createAuthedFixture(t, st, userID, deviceID)
	s := newTestSession(t, st, reg)
	payload, _ := json.Marshal(AuthenticatePayload{Token: token})
	s.dispatch(nil, clientFrame{Type: "authenticate", Payload: payload})
	// Drain the authenticated frame (no pending messages in this fixture).
	popFrame(t, s)
	return s
}

func TestHandleMessageRejectsSpoofedSender(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := authedSession(t, st, reg, "alice", "dev1")

	env := MessageEnvelope{
		MessageID:        "m1",
		SenderID:         "mallory",
		RecipientID:      "bob",
		EncryptedContent: "x",
		MessageType:      storage.MessageKindText,
	}
	payload, _ := json.Marshal(env)
	s.dispatch(nil, clientFrame{Type: "message", Payload: payload})

	f := popFrame(t, s)
	if f.Type != "error" {
		t.Fatalf("got frame type %q, want error for spoofed sender", f.Type)
	}
}

func TestHandleMessageStoresAndDeliversLive(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	alice := authedSession(t, st, reg, "alice", "dev1")
	bob := authedSession(t, st, reg, "bob", "dev1")
	// bob coming online is announced to alice first.
	if f := popFrame(t, alice); f.Type != "user_online" {
		t.Fatalf("got frame type %q, want user_online for bob", f.Type)
	}

	env := MessageEnvelope{
		MessageID:        "m1",
		SenderID:         "alice",
		RecipientID:      "bob",
		EncryptedContent: "cipher",
		MessageType:      storage.MessageKindText,
		Timestamp:        time.Now().UnixMilli(),
	}
	payload, _ := json.Marshal(env)
	alice.dispatch(nil, clientFrame{Type: "message", Payload: payload})

	ackFrame := popFrame(t, alice)
	if ackFrame.Type != "ack" {
		t.Fatalf("got frame type %q, want ack", ackFrame.Type)
	}

	delivered := popFrame(t, bob)
	if delivered.Type != "message" {
		t.Fatalf("got frame type %q, want message delivered live to bob", delivered.Type)
	}

	pending, err := st.GetPending("bob", "dev1")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageID != "m1" {
		t.Fatalf("expected message also durably stored, got %+v", pending)
	}
}

func TestHandleAckDeletesPending(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := authedSession(t, st, reg, "alice", "dev1")

	if err := st.StorePending(storage.PendingEnvelope{
		MessageID:        "m1",
		SenderID:         "bob",
		RecipientID:      "alice",
		EncryptedContent: "cipher",
		MessageType:      storage.MessageKindText,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("store pending: %v", err)
	}

	payload, _ := json.Marshal(AckPayload{MessageIDs: []string{"m1"}})
	s.dispatch(nil, clientFrame{Type: "ack", Payload: payload})
	popFrame(t, s) // server ack echo

	pending, err := st.GetPending("alice", "dev1")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected acked message removed, got %+v", pending)
	}
}

func TestHandlePresenceBroadcastsToOtherOnlineUsers(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	alice := authedSession(t, st, reg, "alice", "dev1")
	bob := authedSession(t, st, reg, "bob", "dev1")
	// bob coming online is announced to alice first.
	if f := popFrame(t, alice); f.Type != "user_online" {
		t.Fatalf("got frame type %q, want user_online for bob", f.Type)
	}

	payload, _ := json.Marshal(PresencePayload{Status: "online"})
	alice.dispatch(nil, clientFrame{Type: "presence", Payload: payload})

	f := popFrame(t, bob)
	if f.Type != "presence" {
		t.Fatalf("got frame type %q, want presence", f.Type)
	}
	// alice should not receive her own presence broadcast back.
	if alice.out.len() != 0 {
		t.Fatalf("expected no presence echo back to sender")
	}
}

func TestHandleCallSignalForwardsToRecipient(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	alice := authedSession(t, st, reg, "alice", "dev1")
	bob := authedSession(t, st, reg, "bob", "dev1")

	sig := CallSignal{CallID: "c1", SenderID: "alice", RecipientID: "bob", SignalType: "offer", Payload: "sdp"}
	payload, _ := json.Marshal(sig)
	alice.dispatch(nil, clientFrame{Type: "call_signal", Payload: payload})

	f := popFrame(t, bob)
	if f.Type != "call_signal" {
		t.Fatalf("got frame type %q, want call_signal", f.Type)
	}
}

func TestHandlePingRepliesPong(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := authedSession(t, st, reg, "alice", "dev1")

	s.dispatch(nil, clientFrame{Type: "ping"})
	f := popFrame(t, s)
	if f.Type != "pong" {
		t.Fatalf("got frame type %q, want pong", f.Type)
	}
}

func TestHandleCloseBroadcastsUserOffline(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	alice := authedSession(t, st, reg, "alice", "dev1")
	bob := authedSession(t, st, reg, "bob", "dev1")

	alice.handleClose()

	if reg.IsUserOnline("alice") {
		t.Fatalf("expected alice offline after close")
	}
	f := popFrame(t, bob)
	if f.Type != "user_offline" {
		t.Fatalf("got frame type %q, want user_offline", f.Type)
	}
}

// TestSendClassifiesFrameByWireType exercises the Send path a registry
// fanout takes (not sendFrame's explicit class argument): a typing frame
// pushed through Send must still be disposable so it's the one evicted when
// the socket's queue backs up, same as if the session had produced it
// locally via sendFrame.
func TestSendClassifiesFrameByWireType(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := newTestSession(t, st, reg)
	s.out = newOutboundQueue(1)

	typingFrame, _ := json.Marshal(serverFrame{Type: "typing", Payload: TypingPayload{RecipientID: "alice"}})
	if !s.Send(typingFrame) {
		t.Fatalf("expected first Send to be accepted")
	}
	messageFrame, _ := json.Marshal(serverFrame{Type: "message", Payload: MessageEnvelope{MessageID: "m1"}})
	if !s.Send(messageFrame) {
		t.Fatalf("expected durable frame to evict the queued typing frame, not be dropped")
	}

	got, ok := s.out.pop()
	if !ok {
		t.Fatalf("expected a queued frame")
	}
	var f serverFrame
	if err := json.Unmarshal(got, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != "message" {
		t.Fatalf("got frame type %q, want message (typing frame should have been evicted)", f.Type)
	}
}

// TestCloseWaitsForWriterToDrainQueuedFrame guards against the socket
// closing before a just-enqueued frame (e.g. an admin-triggered error frame)
// has actually been handed to the writer: Close must not return until the
// writer goroutine has popped everything queued before Close was called.
func TestCloseWaitsForWriterToDrainQueuedFrame(t *testing.T) {
	st := openTestStore(t)
	reg := registry.New(nil)
	s := newTestSession(t, st, reg)

	errFrame, _ := json.Marshal(serverFrame{Type: "error", Payload: ErrorPayload{Code: "ACCOUNT_DELETED"}})
	if !s.Send(errFrame) {
		t.Fatalf("expected Send to accept the error frame")
	}

	var delivered atomic.Bool
	go func() {
		// Stand in for writeLoop: pop whatever Close's drain left queued,
		// mark it delivered, then signal the writer has exited.
		if _, ok := s.out.pop(); ok {
			delivered.Store(true)
		}
		close(s.writerDone)
	}()

	closeDone := make(chan struct{})
	go func() {
		s.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return after the writer drained and exited")
	}
	if !delivered.Load() {
		t.Fatalf("expected Close to wait until the queued frame was popped by the writer")
	}
}
