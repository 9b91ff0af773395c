package relay

import (
	"encoding/json"
	"sync"
)

// frameClass distinguishes frames the spool already durably stores (so dropping
// them from a live socket's queue is recoverable on reconnect) from frames
// that exist only transiently and are safe to discard outright.
type frameClass int

const (
	classDisposable frameClass = iota // presence, typing, pong, user_online/offline
	classDurable                      // message, ack, call_signal, authenticated, error
)

type queuedFrame struct {
	data  []byte
	class frameClass
}

// disposableFrameTypes are the wire types classOfFrame treats as
// classDisposable: stale copies of these are worthless once a newer one is
// queued behind them, so they're the ones evicted under backpressure.
var disposableFrameTypes = map[string]bool{
	"typing":       true,
	"presence":     true,
	"pong":         true,
	"user_online":  true,
	"user_offline": true,
}

// classOfFrame inspects an already-marshaled server frame's wire type and
// reports the eviction class it belongs to. Frames the registry fans out
// (message, ack, call_signal, authenticated, error, and anything unrecognized)
// default to classDurable: an eviction bug that's too eager to drop is far
// worse than one that's too conservative.
func classOfFrame(frame []byte) frameClass {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return classDurable
	}
	if disposableFrameTypes[probe.Type] {
		return classDisposable
	}
	return classDurable
}

// outboundQueue is the per-socket outbound frame buffer. It is bounded; when
// full, the oldest disposable frame is evicted to make
// room. If no disposable frame exists to evict, the new frame is dropped
// instead of blocking the caller — a blocked registry fanout would stall
// every other recipient behind one slow socket.
type outboundQueue struct {
	mu     sync.Mutex
	items  []queuedFrame
	cap    int
	closed bool
	notify chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outboundQueue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues frame. It reports whether the frame was accepted; false
// covers both a closed queue and a capacity drop, without telling them apart.
func (q *outboundQueue) push(frame []byte, class frameClass) (accepted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) < q.cap {
		q.items = append(q.items, queuedFrame{data: frame, class: class})
		q.mu.Unlock()
		q.signal()
		return true
	}
	if idx := q.indexOfOldestDisposable(); idx >= 0 {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.items = append(q.items, queuedFrame{data: frame, class: class})
		q.mu.Unlock()
		q.signal()
		return true
	}
	// Queue is full of durable frames; drop the new frame rather than block.
	q.mu.Unlock()
	return false
}

func (q *outboundQueue) indexOfOldestDisposable() int {
	for i, f := range q.items {
		if f.class == classDisposable {
			return i
		}
	}
	return -1
}

func (q *outboundQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a frame is available or the queue is closed. The second
// return value is false once the queue is closed and drained.
func (q *outboundQueue) pop() ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return f.data, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

// len reports how many frames are currently buffered.
func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close marks the queue closed; any blocked pop returns (nil, false) once
// drained, and subsequent push calls fail.
func (q *outboundQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
