package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"p2p-voice/internal/p2p/base"
	"p2p-voice/internal/p2p/discovery"
	myhost "p2p-voice/internal/p2p/myhost"
	"p2p-voice/internal/p2p/signaling"
	"p2p-voice/internal/rtc/negotiator"
	"p2p-voice/internal/transport"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	ReliableLabel   = "voice-reliable"
	UnreliableLabel = "voice-unreliable"

	DefaultNegotiationTimeout = 30 * time.Second
	DefaultEventBuffer        = 256

	// unreliable sends are dropped while more than this is queued
	maxBufferedAmount = 256 * 1024
)

var (
	ErrPeerExists = errors.New("peer already connected")
	ErrNotOpen    = errors.New("data channel not open")
	ErrCongested  = errors.New("data channel congested")
	ErrStarted    = errors.New("network already started")
)

type Config struct {
	ICEServers         []webrtc.ICEServer
	Discover           *base.DiscoverConfig
	NegotiationTimeout time.Duration
	EventBuffer        int
	IncludeLoopback    bool // gather loopback candidates, for same machine calls
}

// Network is a Transport over WebRTC data channels. Peers are found with
// libp2p discovery and offers and answers travel over a libp2p stream.
type Network struct {
	cfg    Config
	api    *webrtc.API
	events chan transport.Event

	// evMu orders sends on events against closing it
	evMu     sync.RWMutex
	evClosed bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	id       string
	peers    map[string]*peerConn
	closed   bool
	host     host.Host
	discover *discovery.DiscoverManager

	dropped atomic.Uint64
}

type peerConn struct {
	id     string
	pc     *webrtc.PeerConnection
	signal *negotiator.StreamHandler

	mu         sync.RWMutex
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel

	up       atomic.Bool
	downOnce sync.Once
	cancel   context.CancelFunc
}

func NewNetwork(cfg Config) (*Network, error) {
	if cfg.Discover == nil {
		cfg.Discover = base.NewDefaultDiscoverConfig()
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(
		time.Second*60, // Disconnected timeout upped for double NAT
		time.Second*30, // Failed timeout
		time.Second*5,  // Keepalive interval
	)
	settingEngine.SetReceiveMTU(1500)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		cfg:    cfg,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		events: make(chan transport.Event, cfg.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
		peers:  make(map[string]*peerConn),
	}
	log.Info().Int("ice_servers", len(cfg.ICEServers)).Msg("WebRTC network created")
	return n, nil
}

func (n *Network) configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:           n.cfg.ICEServers,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
		ICECandidatePoolSize: 15,
	}
}

// ID is the libp2p host id once started, a random id before.
func (n *Network) ID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// Dropped counts events discarded because the consumer was not keeping up.
func (n *Network) Dropped() uint64 { return n.dropped.Load() }

// Start creates the libp2p host and runs discovery until ctx ends.
func (n *Network) Start(ctx context.Context) error {
	dc := n.cfg.Discover
	addrs := slices.Clone(dc.ListenAddresses)
	if len(addrs) == 0 {
		addr, err := myhost.ListenAddr(dc.ListenHost, dc.ListenPort)
		if err != nil {
			return fmt.Errorf("invalid listen address: %w", err)
		}
		addrs = []multiaddr.Multiaddr{addr}
	}
	h, err := myhost.New(ctx, myhost.Options{ListenAddresses: addrs})
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	dm, err := discovery.NewDiscover(dc, h, n.handleOutgoing)
	if err != nil {
		h.Close()
		return err
	}

	n.mu.Lock()
	if n.closed || n.host != nil {
		n.mu.Unlock()
		h.Close()
		if n.closed {
			return transport.ErrClosed
		}
		return ErrStarted
	}
	n.id, n.host, n.discover = h.ID().String(), h, dm
	n.mu.Unlock()

	// set function that will be called when a peer initiates a connection and starts a stream with this peer
	h.SetStreamHandler(protocol.ID(dc.ProtocolId), n.handleIncoming)
	return dm.StartDiscovery(ctx)
}

func (n *Network) handleOutgoing(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	if err := n.Connect(n.ctx, remote.String(), stream, true); err != nil {
		log.Warn().Err(err).Str("peer", remote.String()).Msg("Outgoing negotiation failed")
	}
}

func (n *Network) handleIncoming(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	n.mu.RLock()
	dm := n.discover
	n.mu.RUnlock()
	if dm != nil && !dm.MarkPeer(remote) {
		log.Debug().Str("peer", remote.String()).Msg("Duplicate signaling stream")
		_ = stream.Reset()
		return
	}
	if err := n.Connect(n.ctx, remote.String(), stream, false); err != nil {
		log.Warn().Err(err).Str("peer", remote.String()).Msg("Incoming negotiation failed")
	}
}

// Connect negotiates a peer connection with remoteID over stream. The
// offerer creates the data channels; the other side accepts them.
func (n *Network) Connect(ctx context.Context, remoteID string, stream io.ReadWriteCloser, offerer bool) error {
	hs := signaling.NewHandshake()
	sh := negotiator.NewStreamHandler(uuid.NewString(), hs.MarkReady)
	p, err := n.newPeer(remoteID, sh)
	if err != nil {
		stream.Close()
		return err
	}

	neg := negotiator.NewNegotiator(p.pc, sh)
	neg.ExchangeTimeout = n.cfg.NegotiationTimeout
	neg.SetupCallbacks()

	if offerer {
		if err := n.createChannels(p); err != nil {
			n.dropPeer(p, "channel setup failed")
			stream.Close()
			return err
		}
	}

	if s, ok := stream.(network.Stream); ok {
		sh.HandleStream(s)
	} else {
		sh.Serve(stream)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.NegotiationTimeout)
	defer cancel()
	if err := hs.WaitContext(ctx); err != nil {
		n.dropPeer(p, "handshake failed")
		return fmt.Errorf("handshake with %s: %w", remoteID, err)
	}

	if offerer {
		err = neg.CreateOffer(ctx)
	} else {
		err = neg.AcceptOffer(ctx)
	}
	if err != nil {
		n.dropPeer(p, "negotiation failed")
		return fmt.Errorf("negotiation with %s: %w", remoteID, err)
	}
	log.Info().Str("peer", remoteID).Bool("offerer", offerer).Msg("Session negotiated")
	return nil
}

func (n *Network) newPeer(remoteID string, sh *negotiator.StreamHandler) (*peerConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, transport.ErrClosed
	}
	if _, ok := n.peers[remoteID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerExists, remoteID)
	}
	pc, err := n.api.NewPeerConnection(n.configuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	ctx, cancel := context.WithCancel(n.ctx)
	p := &peerConn{id: remoteID, pc: pc, signal: sh, cancel: cancel}
	EventHandlers{network: n, peer: p}.setupEventHandlers(ctx, pc)
	n.peers[remoteID] = p
	return p, nil
}

func (n *Network) createChannels(p *peerConn) error {
	ordered := true
	reliable, err := p.pc.CreateDataChannel(ReliableLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create reliable channel: %w", err)
	}
	unordered := false
	maxRetransmits := uint16(0)
	unreliable, err := p.pc.CreateDataChannel(UnreliableLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return fmt.Errorf("failed to create unreliable channel: %w", err)
	}
	n.bindChannel(p, reliable)
	n.bindChannel(p, unreliable)
	return nil
}

func (n *Network) bindChannel(p *peerConn, dc *webrtc.DataChannel) {
	var isReliable bool
	p.mu.Lock()
	switch dc.Label() {
	case ReliableLabel:
		p.reliable, isReliable = dc, true
	case UnreliableLabel:
		p.unreliable = dc
	default:
		p.mu.Unlock()
		log.Warn().Str("peer", p.id).Str("label", dc.Label()).Msg("Ignoring unknown data channel")
		return
	}
	p.mu.Unlock()

	dc.OnOpen(func() {
		log.Info().Str("peer", p.id).Str("label", dc.Label()).Msg("Data channel open")
		if isReliable && p.up.CompareAndSwap(false, true) {
			n.emit(transport.Event{Type: transport.PeerConnected, PeerID: p.id})
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		n.emit(transport.Event{Type: transport.PeerMessage, PeerID: p.id, Data: msg.Data, Reliable: isReliable})
	})
	dc.OnClose(func() {
		log.Debug().Str("peer", p.id).Str("label", dc.Label()).Msg("Data channel closed")
		if isReliable {
			n.dropPeer(p, "reliable channel closed")
		}
	})
}

func (n *Network) dropPeer(p *peerConn, reason string) {
	p.downOnce.Do(func() {
		n.mu.Lock()
		if n.peers[p.id] == p {
			delete(n.peers, p.id)
		}
		dm := n.discover
		n.mu.Unlock()

		p.cancel()
		_ = p.signal.Close()
		// Close waits on callbacks that may be running this
		go func() {
			if err := p.pc.Close(); err != nil {
				log.Debug().Err(err).Str("peer", p.id).Msg("Error closing peer connection")
			}
		}()
		if dm != nil {
			dm.Forget(peer.ID(p.id))
		}
		if p.up.Load() {
			n.emit(transport.Event{Type: transport.PeerDisconnected, PeerID: p.id})
		}
		log.Info().Str("peer", p.id).Str("reason", reason).Msg("Peer dropped")
	})
}

// emit queues ev for Events. Messages are dropped when the queue is full.
// Connect and disconnect events wait for room until the network closes, so
// consumers always see a peer leave.
func (n *Network) emit(ev transport.Event) {
	n.evMu.RLock()
	defer n.evMu.RUnlock()
	if n.evClosed {
		return
	}
	if ev.Type == transport.PeerMessage {
		select {
		case n.events <- ev:
		default:
			n.dropped.Add(1)
		}
		return
	}
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
		n.dropped.Add(1)
	}
}

func (p *peerConn) send(data []byte, reliable bool) error {
	p.mu.RLock()
	dc := p.unreliable
	if reliable {
		dc = p.reliable
	}
	p.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	if !reliable && dc.BufferedAmount() > maxBufferedAmount {
		return ErrCongested
	}
	return dc.Send(data)
}

// Peers lists the peers whose reliable channel is open.
func (n *Network) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.peers))
	for id, p := range n.peers {
		if p.up.Load() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (n *Network) SendToAll(data []byte, reliable bool) {
	n.mu.RLock()
	peers := make([]*peerConn, 0, len(n.peers))
	for _, p := range n.peers {
		if p.up.Load() {
			peers = append(peers, p)
		}
	}
	n.mu.RUnlock()

	for _, p := range peers {
		if err := p.send(data, reliable); err != nil {
			log.Debug().Err(err).Str("peer", p.id).Msg("Send failed")
		}
	}
}

func (n *Network) SendTo(peerID string, data []byte, reliable bool) error {
	n.mu.RLock()
	p, ok := n.peers[peerID]
	n.mu.RUnlock()
	if !ok || !p.up.Load() {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, peerID)
	}
	return p.send(data, reliable)
}

func (n *Network) Events() <-chan transport.Event {
	return n.events
}

// Close tears down every peer connection and the host. It is safe to call
// more than once.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	peers := n.peers
	n.peers = make(map[string]*peerConn)
	h := n.host
	n.mu.Unlock()

	// releases emitters waiting for room before events is closed
	n.cancel()
	n.evMu.Lock()
	n.evClosed = true
	close(n.events)
	n.evMu.Unlock()

	var errs []error
	for _, p := range peers {
		p.downOnce.Do(func() {
			p.cancel()
			_ = p.signal.Close()
			errs = append(errs, p.pc.Close())
		})
	}
	if h != nil {
		errs = append(errs, h.Close())
	}
	log.Info().Msg("WebRTC network closed")
	return errors.Join(errs...)
}
