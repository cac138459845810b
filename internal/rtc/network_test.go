package rtc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"p2p-voice/internal/transport"
)

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	n, err := NewNetwork(Config{IncludeLoopback: true, NegotiationTimeout: 20 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func waitEvent(t *testing.T, n *Network, want transport.EventType) transport.Event {
	t.Helper()
	timeout := time.After(20 * time.Second)
	for {
		select {
		case ev, ok := <-n.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestNetworkDataChannels(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sessions")
	}
	a, b := newTestNetwork(t), newTestNetwork(t)
	left, right := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- a.Connect(ctx, "b", left, true) }()
	go func() { errs <- b.Connect(ctx, "a", right, false) }()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("expected negotiation to succeed, got %v", err)
		}
	}

	if ev := waitEvent(t, a, transport.PeerConnected); ev.PeerID != "b" {
		t.Fatalf("expected b to connect, got %s", ev.PeerID)
	}
	if ev := waitEvent(t, b, transport.PeerConnected); ev.PeerID != "a" {
		t.Fatalf("expected a to connect, got %s", ev.PeerID)
	}

	if err := a.SendTo("b", []byte("hello"), true); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, b, transport.PeerMessage)
	if string(ev.Data) != "hello" || !ev.Reliable || ev.PeerID != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := a.SendTo("nobody", []byte("x"), true); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
	if peers := a.Peers(); len(peers) != 1 || peers[0] != "b" {
		t.Fatalf("expected [b], got %v", peers)
	}

	a.Close()
	waitEvent(t, b, transport.PeerDisconnected)
}

func TestConnectRejectsDuplicatePeer(t *testing.T) {
	n := newTestNetwork(t)
	left, right := net.Pipe()
	defer right.Close()

	first := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { first <- n.Connect(ctx, "peer", left, false) }()

	// wait for the first attempt to register
	deadline := time.Now().Add(2 * time.Second)
	for {
		n.mu.RLock()
		_, ok := n.peers["peer"]
		n.mu.RUnlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("peer was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	other, _ := net.Pipe()
	if err := n.Connect(context.Background(), "peer", other, false); !errors.Is(err, ErrPeerExists) {
		t.Fatalf("expected ErrPeerExists, got %v", err)
	}
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the pending handshake to be canceled, got %v", err)
	}
}

func TestClosedNetwork(t *testing.T) {
	n := newTestNetwork(t)
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-n.Events(); ok {
		t.Fatal("expected closed events channel")
	}
	left, _ := net.Pipe()
	if err := n.Connect(context.Background(), "peer", left, true); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	n.SendToAll([]byte("dropped"), false)
}

func TestLifecycleEventsWaitForRoom(t *testing.T) {
	n, err := NewNetwork(Config{EventBuffer: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	n.emit(transport.Event{Type: transport.PeerMessage, PeerID: "a", Data: []byte("1")})
	n.emit(transport.Event{Type: transport.PeerMessage, PeerID: "a", Data: []byte("2")})
	if n.Dropped() != 1 {
		t.Fatalf("expected the second message to be dropped, got %d drops", n.Dropped())
	}

	done := make(chan struct{})
	go func() {
		n.emit(transport.Event{Type: transport.PeerDisconnected, PeerID: "a"})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("expected the disconnect to wait for room")
	case <-time.After(50 * time.Millisecond):
	}

	if ev := <-n.Events(); ev.Type != transport.PeerMessage {
		t.Fatalf("expected the queued message first, got %s", ev.Type)
	}
	select {
	case ev := <-n.Events():
		if ev.Type != transport.PeerDisconnected || ev.PeerID != "a" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect was not delivered")
	}
	<-done
	if n.Dropped() != 1 {
		t.Fatalf("expected no further drops, got %d", n.Dropped())
	}
}

func TestCloseReleasesWaitingEmit(t *testing.T) {
	n, err := NewNetwork(Config{EventBuffer: 1})
	if err != nil {
		t.Fatal(err)
	}
	n.emit(transport.Event{Type: transport.PeerMessage, PeerID: "a"})

	emitted := make(chan struct{})
	go func() {
		n.emit(transport.Event{Type: transport.PeerConnected, PeerID: "b"})
		close(emitted)
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- n.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a waiting emit")
	}
	<-emitted

	// emits after close are ignored
	n.emit(transport.Event{Type: transport.PeerDisconnected, PeerID: "b"})
}
