// Package registry tracks which devices currently hold a live websocket
// connection, and fans outbound frames out to them. It is the relay's
// in-memory complement to the message spool: messages to an online device
// go through here; messages to an offline device are spooled instead.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/privmsg/relay/observability"
)

// LiveConnection is the subset of a relay session the registry needs to
// route frames to it. relay/session.Session implements this.
type LiveConnection interface {
	// Send enqueues frame for delivery without blocking. It reports whether
	// the frame was accepted; false means the connection's outbound queue
	// could not take it (full or already closing).
	Send(frame []byte) bool
	UserID() string
	DeviceID() string
	// Close tears down the underlying socket. Used by admin user deletion:
	// sockets receive an ACCOUNT_DELETED error frame and are then closed.
	Close() error
}

// Registry is the shared in-memory connection registry.
type Registry struct {
	obs observability.RelayObserver

	mu       sync.RWMutex
	byUser   map[string]map[string]LiveConnection // user_id -> device_id -> conn
	byDevice map[string]LiveConnection             // device_id -> conn (for O(1) device lookup)

	connCount int64
}

// New returns an empty registry. obs may be nil (treated as a no-op observer).
func New(obs observability.RelayObserver) *Registry {
	if obs == nil {
		obs = observability.NoopRelayObserver
	}
	return &Registry{
		obs:      obs,
		byUser:   make(map[string]map[string]LiveConnection),
		byDevice: make(map[string]LiveConnection),
	}
}

// Register installs conn as the live connection for (userID, deviceID). Any
// prior connection for that device is returned so the caller can close it
// (a second login from the same device replaces, rather than multiplexes
// with, the first).
func (r *Registry) Register(userID, deviceID string, conn LiveConnection) (replaced LiveConnection) {
	r.mu.Lock()
	devices := r.byUser[userID]
	if devices == nil {
		devices = make(map[string]LiveConnection, 1)
		r.byUser[userID] = devices
	}
	replaced = devices[deviceID]
	devices[deviceID] = conn
	r.byDevice[deviceID] = conn
	userCount := len(r.byUser)
	r.mu.Unlock()

	// A replaced connection is no longer counted, so only a new device slot
	// raises the count.
	var conns int64
	if replaced == nil {
		conns = atomic.AddInt64(&r.connCount, 1)
	} else {
		conns = atomic.LoadInt64(&r.connCount)
	}
	r.obs.ConnCount(conns)
	r.obs.OnlineUsers(userCount)
	return replaced
}

// Unregister removes conn from the registry, but only if it is still the
// currently-registered connection for that device — this keeps a stale
// cleanup (from a connection that was already replaced) from clobbering the
// connection that replaced it.
func (r *Registry) Unregister(userID, deviceID string, conn LiveConnection) {
	r.mu.Lock()
	removed := false
	if devices := r.byUser[userID]; devices != nil {
		if devices[deviceID] == conn {
			delete(devices, deviceID)
			removed = true
			if len(devices) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	if r.byDevice[deviceID] == conn {
		delete(r.byDevice, deviceID)
	}
	userCount := len(r.byUser)
	r.mu.Unlock()

	if removed {
		newConns := atomic.AddInt64(&r.connCount, -1)
		r.obs.ConnCount(newConns)
		r.obs.OnlineUsers(userCount)
	}
}

// SendToDevice delivers frame to deviceID if it is currently connected.
func (r *Registry) SendToDevice(deviceID string, frame []byte) bool {
	r.mu.RLock()
	conn := r.byDevice[deviceID]
	r.mu.RUnlock()
	if conn == nil {
		return false
	}
	return conn.Send(frame)
}

// SendToUser delivers frame to every device userID currently has connected,
// and returns how many accepted it. Conns are snapshotted under the lock and
// sent to afterward, so a slow Send never holds up registry lookups for
// other goroutines.
func (r *Registry) SendToUser(userID string, frame []byte) int {
	conns := r.snapshotUserConns(userID, "")
	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// SendToOtherDevices delivers frame to every device of userID except
// excludeDeviceID — used to echo a message a user sends from one device to
// that user's other logged-in devices.
func (r *Registry) SendToOtherDevices(userID, excludeDeviceID string, frame []byte) int {
	conns := r.snapshotUserConns(userID, excludeDeviceID)
	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshotUserConns(userID, excludeDeviceID string) []LiveConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := r.byUser[userID]
	if len(devices) == 0 {
		return nil
	}
	out := make([]LiveConnection, 0, len(devices))
	for deviceID, conn := range devices {
		if deviceID == excludeDeviceID {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// IsUserOnline reports whether userID has at least one live connection.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// IsDeviceOnline reports whether deviceID currently has a live connection.
func (r *Registry) IsDeviceOnline(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byDevice[deviceID]
	return ok
}

// OnlineUserCount returns the number of distinct users with at least one
// live connection.
func (r *Registry) OnlineUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// OnlineUserIDsExcept returns the ids of every user with at least one live
// connection, other than excludeUserID. It backs the literal presence
// broadcast: every online user hears about another user's presence change,
// with no contact-list filtering.
func (r *Registry) OnlineUserIDsExcept(excludeUserID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		if userID == excludeUserID {
			continue
		}
		out = append(out, userID)
	}
	return out
}

// CloseUser closes every live connection userID currently has, e.g. after an
// admin deletes the account. Conns are snapshotted under the lock so closing
// a slow socket never holds up registry lookups for other goroutines.
func (r *Registry) CloseUser(userID string) {
	conns := r.snapshotUserConns(userID, "")
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// OnlineDeviceIDs returns the device ids currently connected for userID.
func (r *Registry) OnlineDeviceIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := r.byUser[userID]
	if len(devices) == 0 {
		return nil
	}
	out := make([]string, 0, len(devices))
	for deviceID := range devices {
		out = append(out, deviceID)
	}
	return out
}
