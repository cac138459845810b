// Package transport defines how encoded frames move between peers.
package transport

type EventType int

const (
	PeerConnected EventType = iota
	PeerDisconnected
	PeerMessage
)

func (t EventType) String() string {
	switch t {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered for every peer lifecycle change and inbound packet.
type Event struct {
	Type     EventType
	PeerID   string
	Data     []byte
	Reliable bool
}

// Transport sends packets to connected peers and reports what happens to
// them. Sends never block on a slow peer.
type Transport interface {
	// SendToAll delivers data to every connected peer. data may be reused
	// by the caller once it returns.
	SendToAll(data []byte, reliable bool)
	SendTo(peerID string, data []byte, reliable bool) error
	// Events is closed when the transport is closed.
	Events() <-chan Event
	Close() error
}
