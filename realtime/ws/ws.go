// Package ws wraps gorilla/websocket with context-deadline-aware reads and
// writes, so a session's reader/writer goroutines can be canceled by a
// context the same way the rest of the relay cancels work. The relay only
// ever accepts inbound upgrades — it never dials out as a websocket client —
// so this package exposes just the server-side half of gorilla/websocket.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one upgraded connection between the relay and a device.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions configures the handshake gorilla/websocket performs when
// an HTTP request is upgraded to this connection.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade completes the websocket handshake for an inbound HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// SetReadLimit caps the size of a single inbound frame; the session FSM
// rejects oversized frames by closing the connection rather than buffering.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// armDeadlineWakeup arranges for an in-flight gorilla/websocket read or
// write to unblock when ctx is canceled, by forcing its socket deadline into
// the past. gorilla/websocket has no native context support, so this is the
// only way to make a blocked call respect cancellation. The returned func
// must run once the blocking call has returned, to disarm the AfterFunc.
func armDeadlineWakeup(ctx context.Context, wake func()) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	var active atomic.Bool
	active.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if active.Load() {
			wake()
		}
	})
	return func() {
		active.Store(false)
		stop()
	}
}

// mapTimeoutErr turns a net.Error timeout produced by armDeadlineWakeup's
// forced deadline into the context error that actually caused it, so
// callers see ctx.Err() / context.DeadlineExceeded rather than a raw I/O
// timeout whose cause they'd otherwise have to guess at.
func mapTimeoutErr(err error, ctx context.Context, hasDeadline bool, deadline time.Time) error {
	ne, ok := err.(net.Error)
	if !ok || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// ReadMessage reads one frame, honoring ctx's deadline and cancellation.
func (c *Conn) ReadMessage(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	disarm := armDeadlineWakeup(ctx, func() { _ = c.c.SetReadDeadline(time.Now()) })
	mt, b, err := c.c.ReadMessage()
	disarm()
	if err != nil {
		return 0, nil, mapTimeoutErr(err, ctx, hasDeadline, deadline)
	}
	return mt, b, nil
}

// WriteMessage writes one frame, honoring ctx's deadline and cancellation.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetWriteDeadline(deadline)
	} else {
		_ = c.c.SetWriteDeadline(time.Time{})
	}
	disarm := armDeadlineWakeup(ctx, func() { _ = c.c.SetWriteDeadline(time.Now()) })
	err := c.c.WriteMessage(messageType, data)
	disarm()
	if err != nil {
		return mapTimeoutErr(err, ctx, hasDeadline, deadline)
	}
	return nil
}

// Close closes the underlying socket without sending a close control frame.
// Callers that want a clean close handshake write one themselves via
// WriteMessage(ctx, websocket.CloseMessage, ...) before calling Close.
func (c *Conn) Close() error {
	return c.c.Close()
}
