// Package relay implements the per-socket relay session state machine:
// Unauth -> Authed -> Closed, frame dispatch, and the bounded outbound
// queue each live connection uses to talk back to its client. One goroutine
// reads and routes frames, fanning them out through the connection registry
// to however many devices a user has logged in from; another drains this
// connection's outbound queue onto its socket.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/privmsg/relay/crypto/primitives"
	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/realtime/registry"
	"github.com/privmsg/relay/realtime/ws"
	"github.com/privmsg/relay/storage"
)

const (
	stateUnauth int32 = iota
	stateAuthed
	stateClosed
)

// Config tunes a Session's behavior. Zero values of OutboundQueueCapacity,
// MaxMessageAge and AuthTimeout are replaced by DefaultConfig's in New; a
// zero WriteTimeout means frames are written with no deadline.
type Config struct {
	OutboundQueueCapacity int           // Max buffered outbound frames.
	MaxMessageAge         time.Duration // storage.max_message_age_hours, as a duration.
	WriteTimeout          time.Duration // Per-frame websocket write deadline.
	AuthTimeout           time.Duration // Time allowed to receive the first authenticate frame.
}

// DefaultConfig returns the relay session defaults.
func DefaultConfig() Config {
	return Config{
		OutboundQueueCapacity: 256,
		MaxMessageAge:         30 * 24 * time.Hour,
		WriteTimeout:          10 * time.Second,
		AuthTimeout:           10 * time.Second,
	}
}

// Deps bundles the shared components a Session talks to.
type Deps struct {
	Store    *storage.Store
	Registry *registry.Registry
	Observer observability.RelayObserver
	Logger   *slog.Logger
}

// Session is one live websocket connection's RelaySessionFSM.
type Session struct {
	cfg  Config
	deps Deps
	conn *ws.Conn
	out  *outboundQueue

	state atomic.Int32

	userID   atomic.Value // string
	deviceID atomic.Value // string

	writerDone chan struct{} // closed once writeLoop returns
	closeOnce  sync.Once
}

// New wraps an already-upgraded websocket connection in a fresh,
// unauthenticated Session.
func New(conn *ws.Conn, deps Deps, cfg Config) *Session {
	if cfg.OutboundQueueCapacity <= 0 {
		cfg.OutboundQueueCapacity = DefaultConfig().OutboundQueueCapacity
	}
	if cfg.MaxMessageAge <= 0 {
		cfg.MaxMessageAge = DefaultConfig().MaxMessageAge
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultConfig().AuthTimeout
	}
	if deps.Observer == nil {
		deps.Observer = observability.NoopRelayObserver
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		conn:       conn,
		out:        newOutboundQueue(cfg.OutboundQueueCapacity),
		writerDone: make(chan struct{}),
	}
	s.state.Store(stateUnauth)
	s.userID.Store("")
	s.deviceID.Store("")
	return s
}

// UserID returns the authenticated user id, or "" before authentication.
func (s *Session) UserID() string { return s.userID.Load().(string) }

// DeviceID returns the authenticated device id, or "" before authentication.
func (s *Session) DeviceID() string { return s.deviceID.Load().(string) }

// Close drains any frame already queued for this socket (e.g. an
// admin-triggered error frame enqueued via Send moments earlier) before
// tearing down the underlying websocket connection. It implements
// registry.LiveConnection; closing the conn unblocks the reader goroutine in
// Run, which then drives the normal unregister/last-seen/presence teardown
// path. Safe to call more than once and safe to race with Run's own unwind.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.out.close()
		<-s.writerDone
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// Send enqueues frame (already-marshaled JSON) for delivery to this socket.
// It implements registry.LiveConnection. Frames arrive here from the
// registry's fanout (other sessions' message/ack/call_signal/typing/presence/
// user_online/user_offline), not from this session's own sendFrame, so the
// class has to be recovered from the frame's wire type rather than assumed.
func (s *Session) Send(frame []byte) bool {
	return s.out.push(frame, classOfFrame(frame))
}

// Run drives the session until the socket closes or ctx is canceled: it
// starts the writer loop and then blocks in the reader loop. It always
// returns after fully unwinding (unregistering from the registry, stamping
// last_seen_at, broadcasting user_offline if this was the user's last
// device).
func (s *Session) Run(ctx context.Context) {
	go func() {
		defer close(s.writerDone)
		s.writeLoop()
	}()

	s.readLoop(ctx)

	// Share the drain-then-close path with an external Close() call (e.g. an
	// admin forcing this user off). Whichever of the two runs first does the
	// work; closeOnce makes the other a no-op instead of a double-close.
	s.Close()
	s.handleClose()
}

func (s *Session) writeLoop() {
	for {
		frame, ok := s.out.pop()
		if !ok {
			return
		}
		deadline := time.Time{}
		if s.cfg.WriteTimeout > 0 {
			deadline = time.Now().Add(s.cfg.WriteTimeout)
		}
		wctx := context.Background()
		var cancel context.CancelFunc
		if !deadline.IsZero() {
			wctx, cancel = context.WithDeadline(wctx, deadline)
		}
		err := s.conn.WriteMessage(wctx, websocket.TextMessage, frame)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			s.deps.Observer.Close(observability.CloseReasonWriteError)
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		authCtx := ctx
		var cancel context.CancelFunc
		if s.state.Load() == stateUnauth {
			authCtx, cancel = context.WithTimeout(ctx, s.cfg.AuthTimeout)
		}
		mt, msg, err := s.conn.ReadMessage(authCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.sendError(relayerrInvalidFrame, "malformed frame")
			continue
		}
		if !s.dispatch(ctx, frame) {
			return
		}
	}
}

type clientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type serverFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const relayerrInvalidFrame = "BAD_REQUEST"

// dispatch handles one client frame. It returns false if the socket should
// be closed (fatal protocol violation); frame-level errors are reported
// in-band via an error frame and the socket stays open.
func (s *Session) dispatch(ctx context.Context, f clientFrame) bool {
	if s.state.Load() != stateAuthed {
		if f.Type != "authenticate" {
			s.sendError("UNAUTHORIZED", "authenticate first")
			return true
		}
		return s.handleAuthenticate(ctx, f.Payload)
	}
	switch f.Type {
	case "authenticate":
		// Already authenticated; a second authenticate frame is ignored
		// rather than treated as fatal.
		return true
	case "message":
		return s.handleMessage(f.Payload)
	case "ack":
		return s.handleAck(f.Payload)
	case "typing":
		return s.handleTyping(f.Payload)
	case "presence":
		return s.handlePresence(f.Payload)
	case "call_signal":
		return s.handleCallSignal(f.Payload)
	case "ping":
		s.sendFrame("pong", nil, classDisposable)
		return true
	default:
		s.sendError(relayerrInvalidFrame, "unknown frame type")
		return true
	}
}

func (s *Session) handleAuthenticate(ctx context.Context, raw json.RawMessage) bool {
	var p AuthenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError("AUTH_FAILED", "malformed authenticate payload")
		s.deps.Observer.Auth(observability.AuthResultFail, observability.AuthReasonMalformedFrame)
		return true
	}
	userID, deviceID, err := s.deps.Store.ValidateSession(p.Token)
	if err != nil {
		s.sendError("AUTH_FAILED", "invalid or expired token")
		s.deps.Observer.Auth(observability.AuthResultFail, observability.AuthReasonSessionExpired)
		return true
	}

	s.userID.Store(userID)
	s.deviceID.Store(deviceID)
	s.state.Store(stateAuthed)
	wasOnline := s.deps.Registry.IsUserOnline(userID)
	s.deps.Registry.Register(userID, deviceID, s)
	s.deps.Observer.Auth(observability.AuthResultOK, observability.AuthReasonOK)

	pending, err := s.deps.Store.GetPending(userID, deviceID)
	if err != nil {
		s.deps.Logger.Error("load pending on authenticate", "error", err, "user_id", userID)
	}
	for _, env := range pending {
		s.sendFrame("message", envelopeFromPending(env), classDurable)
	}
	s.sendFrame("authenticated", nil, classDurable)

	if !wasOnline {
		s.broadcastPresenceEvent("user_online", userID)
	}
	return true
}

func (s *Session) handleMessage(raw json.RawMessage) bool {
	var env MessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(relayerrInvalidFrame, "malformed message payload")
		return true
	}
	if env.SenderID != s.UserID() {
		s.sendError("INVALID_SENDER", "sender_id does not match authenticated user")
		return true
	}
	if env.MessageID == "" {
		id, err := primitives.GenerateFileID() // 16-byte random id, reused here as a generic opaque id generator
		if err == nil {
			env.MessageID = id
		}
	}

	now := time.Now().UTC()
	pending := env.toPending(now, s.cfg.MaxMessageAge)
	if err := s.deps.Store.StorePending(pending); err != nil {
		s.deps.Logger.Error("store pending message", "error", err, "message_id", env.MessageID)
		s.sendError("DATABASE_ERROR", "failed to store message")
		return true
	}
	s.deps.Observer.MessageStored()

	frame, err := json.Marshal(serverFrame{Type: "message", Payload: env})
	if err == nil {
		var delivered int
		if env.RecipientDeviceID != "" {
			if s.deps.Registry.SendToDevice(env.RecipientDeviceID, frame) {
				delivered = 1
			}
		} else {
			delivered = s.deps.Registry.SendToUser(env.RecipientID, frame)
		}
		if delivered > 0 {
			s.deps.Observer.MessageDelivered(observability.DeliveryModeRealtime)
		} else {
			s.deps.Observer.MessageDelivered(observability.DeliveryModeQueued)
		}
		// Echo to the sender's other devices so multi-device clients stay in sync.
		s.deps.Registry.SendToOtherDevices(env.SenderID, s.DeviceID(), frame)
	}

	s.sendFrame("ack", AckPayload{MessageIDs: []string{env.MessageID}}, classDurable)
	return true
}

func (s *Session) handleAck(raw json.RawMessage) bool {
	var p AckPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(relayerrInvalidFrame, "malformed ack payload")
		return true
	}
	if err := s.deps.Store.DeletePending(p.MessageIDs); err != nil {
		s.deps.Logger.Error("delete acked pending messages", "error", err)
		s.sendError("DATABASE_ERROR", "failed to acknowledge messages")
		return true
	}
	s.sendFrame("ack", p, classDurable)
	return true
}

func (s *Session) handleTyping(raw json.RawMessage) bool {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(relayerrInvalidFrame, "malformed typing payload")
		return true
	}
	frame, err := json.Marshal(serverFrame{Type: "typing", Payload: p})
	if err == nil {
		s.deps.Registry.SendToUser(p.RecipientID, frame)
	}
	return true
}

func (s *Session) handlePresence(raw json.RawMessage) bool {
	var p PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(relayerrInvalidFrame, "malformed presence payload")
		return true
	}
	frame, err := json.Marshal(serverFrame{Type: "presence", Payload: p})
	if err != nil {
		return true
	}
	// Literal broadcast: every other online user hears this, no contact
	// list filtering.
	for _, userID := range s.deps.Registry.OnlineUserIDsExcept(s.UserID()) {
		s.deps.Registry.SendToUser(userID, frame)
	}
	return true
}

func (s *Session) handleCallSignal(raw json.RawMessage) bool {
	var sig CallSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		s.sendError(relayerrInvalidFrame, "malformed call_signal payload")
		return true
	}
	if sig.SenderID != s.UserID() {
		s.sendError("INVALID_SENDER", "sender_id does not match authenticated user")
		return true
	}
	frame, err := json.Marshal(serverFrame{Type: "call_signal", Payload: sig})
	if err == nil {
		s.deps.Registry.SendToUser(sig.RecipientID, frame)
	}
	return true
}

func (s *Session) handleClose() {
	userID, deviceID := s.UserID(), s.DeviceID()
	if userID == "" {
		return
	}
	s.state.Store(stateClosed)
	s.deps.Registry.Unregister(userID, deviceID, s)
	if err := s.deps.Store.UpdateUserLastSeen(userID); err != nil {
		s.deps.Logger.Error("update last_seen_at on close", "error", err, "user_id", userID)
	}
	if !s.deps.Registry.IsUserOnline(userID) {
		s.broadcastPresenceEvent("user_offline", userID)
	}
}

func (s *Session) broadcastPresenceEvent(frameType, userID string) {
	frame, err := json.Marshal(serverFrame{Type: frameType, Payload: UserPresenceEventPayload{UserID: userID}})
	if err != nil {
		return
	}
	for _, other := range s.deps.Registry.OnlineUserIDsExcept(userID) {
		s.deps.Registry.SendToUser(other, frame)
	}
}

func (s *Session) sendFrame(frameType string, payload interface{}, class frameClass) {
	b, err := json.Marshal(serverFrame{Type: frameType, Payload: payload})
	if err != nil {
		return
	}
	if !s.out.push(b, class) {
		s.deps.Observer.MessageDropped(observability.DropReasonQueueFull)
	}
}

func (s *Session) sendError(code, message string) {
	s.sendFrame("error", ErrorPayload{Code: code, Message: message}, classDurable)
}
