package signaling

import (
	"context"
	"sync"
)

// HandshakeManager is closed once both ends of a signaling stream have
// acknowledged each other.
type HandshakeManager struct {
	once  sync.Once
	Ready chan struct{}
}

func NewHandshake() *HandshakeManager {
	return &HandshakeManager{
		Ready: make(chan struct{}),
	}
}

func (h *HandshakeManager) MarkReady() {
	h.once.Do(func() {
		close(h.Ready)
	})
}

func (h *HandshakeManager) Wait() {
	<-h.Ready
}

// WaitContext waits for the handshake or for ctx to end.
func (h *HandshakeManager) WaitContext(ctx context.Context) error {
	select {
	case <-h.Ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
