// Package observability defines the metric events the relay emits, decoupled
// from any particular backend. A production process wires observability/prom;
// tests and tools that don't care about metrics use NoopRelayObserver.
package observability

import (
	"sync"
	"sync/atomic"
)

// AuthResult is the outcome of an authenticate frame or HTTP login/register.
type AuthResult string

const (
	AuthResultOK   AuthResult = "ok"
	AuthResultFail AuthResult = "fail"
)

// AuthReason further qualifies an AuthResult.
type AuthReason string

const (
	AuthReasonOK                 AuthReason = "ok"
	AuthReasonBadCredentials     AuthReason = "bad_credentials"
	AuthReasonUnknownUser        AuthReason = "unknown_user"
	AuthReasonSessionExpired     AuthReason = "session_expired"
	AuthReasonUpgradeError       AuthReason = "upgrade_error"
	AuthReasonTooManyConnections AuthReason = "too_many_connections"
	AuthReasonTimeout            AuthReason = "timeout"
	AuthReasonMalformedFrame     AuthReason = "malformed_frame"
)

// CloseReason is why a live connection was torn down.
type CloseReason string

const (
	CloseReasonClientClosed   CloseReason = "client_closed"
	CloseReasonReplaced       CloseReason = "replaced"
	CloseReasonIdleTimeout    CloseReason = "idle_timeout"
	CloseReasonWriteQueueFull CloseReason = "write_queue_full"
	CloseReasonWriteError     CloseReason = "write_error"
	CloseReasonServerShutdown CloseReason = "server_shutdown"
)

// DeliveryMode is how a message reached (or failed to reach) its recipient.
type DeliveryMode string

const (
	DeliveryModeRealtime DeliveryMode = "realtime" // delivered over a live connection
	DeliveryModeQueued   DeliveryMode = "queued"    // recipient offline, spooled for later
)

// DropReason explains why an outbound frame never made it onto a socket.
type DropReason string

const (
	DropReasonQueueFull    DropReason = "queue_full"
	DropReasonSlowConsumer DropReason = "slow_consumer"
)

// ReapKind names what a sweep of the Reaper cleaned up.
type ReapKind string

const (
	ReapKindPendingMessages ReapKind = "pending_messages"
	ReapKindFiles           ReapKind = "files"
	ReapKindSessions        ReapKind = "sessions"
)

// RelayObserver receives every metric-worthy event the relay produces.
type RelayObserver interface {
	ConnCount(n int64)
	OnlineUsers(n int)
	Auth(result AuthResult, reason AuthReason)
	Close(reason CloseReason)
	MessageStored()
	MessageDelivered(mode DeliveryMode)
	MessageDropped(reason DropReason)
	FileUploaded(sizeBytes int64)
	FileDownloaded()
	ReaperSweep(kind ReapKind, count int)
}

type noopRelayObserver struct{}

func (noopRelayObserver) ConnCount(int64)               {}
func (noopRelayObserver) OnlineUsers(int)               {}
func (noopRelayObserver) Auth(AuthResult, AuthReason)   {}
func (noopRelayObserver) Close(CloseReason)             {}
func (noopRelayObserver) MessageStored()                {}
func (noopRelayObserver) MessageDelivered(DeliveryMode) {}
func (noopRelayObserver) MessageDropped(DropReason)     {}
func (noopRelayObserver) FileUploaded(int64)            {}
func (noopRelayObserver) FileDownloaded()               {}
func (noopRelayObserver) ReaperSweep(ReapKind, int)     {}

// NoopRelayObserver is a zero-cost observer used when metrics are disabled.
var NoopRelayObserver RelayObserver = noopRelayObserver{}

// AtomicRelayObserver lets the active observer be swapped at runtime.
type AtomicRelayObserver struct {
	once sync.Once
	v    atomic.Value
}

type relayObserverHolder struct {
	obs RelayObserver
}

// NewAtomicRelayObserver returns an initialized atomic observer defaulting
// to the no-op implementation.
func NewAtomicRelayObserver() *AtomicRelayObserver {
	a := &AtomicRelayObserver{}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicRelayObserver) Set(obs RelayObserver) {
	if obs == nil {
		obs = NoopRelayObserver
	}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	a.v.Store(&relayObserverHolder{obs: obs})
}

func (a *AtomicRelayObserver) load() RelayObserver {
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a.v.Load().(*relayObserverHolder).obs
}

func (a *AtomicRelayObserver) ConnCount(n int64) { a.load().ConnCount(n) }
func (a *AtomicRelayObserver) OnlineUsers(n int) { a.load().OnlineUsers(n) }
func (a *AtomicRelayObserver) Auth(result AuthResult, reason AuthReason) {
	a.load().Auth(result, reason)
}
func (a *AtomicRelayObserver) Close(reason CloseReason)           { a.load().Close(reason) }
func (a *AtomicRelayObserver) MessageStored()                     { a.load().MessageStored() }
func (a *AtomicRelayObserver) MessageDelivered(mode DeliveryMode) { a.load().MessageDelivered(mode) }
func (a *AtomicRelayObserver) MessageDropped(reason DropReason)   { a.load().MessageDropped(reason) }
func (a *AtomicRelayObserver) FileUploaded(sizeBytes int64)       { a.load().FileUploaded(sizeBytes) }
func (a *AtomicRelayObserver) FileDownloaded()                    { a.load().FileDownloaded() }
func (a *AtomicRelayObserver) ReaperSweep(kind ReapKind, count int) {
	a.load().ReaperSweep(kind, count)
}
