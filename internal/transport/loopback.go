package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnknownPeer = errors.New("unknown peer")
)

const DefaultLoopbackBuffer = 256

// Loopback is an in memory transport. A pair connects two endpoints; an echo
// endpoint delivers everything it sends back to itself.
type Loopback struct {
	id     string
	mu     sync.Mutex
	remote *Loopback
	events chan Event
	closed bool

	dropped atomic.Uint64
}

func newLoopback(buffer int) *Loopback {
	if buffer <= 0 {
		buffer = DefaultLoopbackBuffer
	}
	return &Loopback{
		id:     uuid.NewString(),
		events: make(chan Event, buffer),
	}
}

// NewLoopbackPair returns two connected endpoints. Each sees a
// PeerConnected event for the other.
func NewLoopbackPair(buffer int) (*Loopback, *Loopback) {
	a, b := newLoopback(buffer), newLoopback(buffer)
	a.remote, b.remote = b, a
	a.deliver(Event{Type: PeerConnected, PeerID: b.id})
	b.deliver(Event{Type: PeerConnected, PeerID: a.id})
	return a, b
}

// NewLoopbackEcho returns an endpoint connected to itself.
func NewLoopbackEcho(buffer int) *Loopback {
	l := newLoopback(buffer)
	l.remote = l
	l.deliver(Event{Type: PeerConnected, PeerID: l.id})
	return l
}

func (l *Loopback) ID() string { return l.id }

// Dropped counts events discarded because the receiver was not keeping up.
func (l *Loopback) Dropped() uint64 { return l.dropped.Load() }

func (l *Loopback) deliver(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.events <- ev:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

func (l *Loopback) peer() (*Loopback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.remote == nil {
		return nil, ErrUnknownPeer
	}
	return l.remote, nil
}

func (l *Loopback) SendToAll(data []byte, reliable bool) {
	remote, err := l.peer()
	if err != nil {
		return
	}
	remote.deliver(Event{Type: PeerMessage, PeerID: l.id, Data: append([]byte(nil), data...), Reliable: reliable})
}

func (l *Loopback) SendTo(peerID string, data []byte, reliable bool) error {
	remote, err := l.peer()
	if err != nil {
		return err
	}
	if remote.id != peerID {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	remote.deliver(Event{Type: PeerMessage, PeerID: l.id, Data: append([]byte(nil), data...), Reliable: reliable})
	return nil
}

func (l *Loopback) Events() <-chan Event {
	return l.events
}

// Close closes the event channel and tells the other end. It is safe to
// call more than once.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	remote := l.remote
	l.remote = nil
	close(l.events)
	l.mu.Unlock()

	if remote != nil && remote != l {
		remote.mu.Lock()
		remote.remote = nil
		remote.mu.Unlock()
		remote.deliver(Event{Type: PeerDisconnected, PeerID: l.id})
	}
	return nil
}
