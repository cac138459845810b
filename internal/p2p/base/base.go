package base

import (
	"context"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

var (
	RendezvousString string                = "p2p-voice-5d0c41a2-8b7e-4f0b-9a61-2c3e7d9f1b44"
	BootstrapPeers   []multiaddr.Multiaddr = dht.DefaultBootstrapPeers
	ListenAddresses  []multiaddr.Multiaddr = []multiaddr.Multiaddr{}
	ProtocolID       string                = "/p2p-voice/signaling/1.0.0"
)

type DiscoverInterface interface {
	Start(ctx context.Context) error
}

type DiscoverConfig struct {
	ProtocolId       string
	RendezvousString string
	ListenAddresses  []multiaddr.Multiaddr
	BootstrapPeers   []multiaddr.Multiaddr
	ListenHost       string
	ListenPort       int
	MDNSTimeout      time.Duration // how long mDNS runs alone before the DHT joins
	FindInterval     time.Duration // pause between DHT lookups
}

func NewDefaultDiscoverConfig() *DiscoverConfig {
	return &DiscoverConfig{
		ProtocolId:       ProtocolID,
		RendezvousString: RendezvousString,
		ListenAddresses:  ListenAddresses,
		BootstrapPeers:   dht.DefaultBootstrapPeers,
		ListenHost:       "0.0.0.0",
		ListenPort:       0,
		MDNSTimeout:      60 * time.Second,
		FindInterval:     10 * time.Second,
	}
}

type StreamHandler func(stream network.Stream)

// Discover holds what every discovery mechanism shares: the host, the
// outgoing stream handler and the set of peers already dialed.
type Discover struct {
	Cfg       *DiscoverConfig
	Host      host.Host
	OutStream StreamHandler

	mu        sync.Mutex
	known     map[peer.ID]struct{}
	firstOnce sync.Once
	first     chan struct{}
}

func NewDiscover(cfg *DiscoverConfig, h host.Host, outStream StreamHandler) (*Discover, error) {
	if outStream == nil {
		return nil, fmt.Errorf("stream handler cannot be nil")
	}
	if h == nil {
		return nil, fmt.Errorf("host cannot be nil")
	}
	if cfg == nil {
		cfg = NewDefaultDiscoverConfig()
	}
	return &Discover{
		Cfg:       cfg,
		Host:      h,
		OutStream: outStream,
		known:     make(map[peer.ID]struct{}),
		first:     make(chan struct{}),
	}, nil
}

func NewDiscoverWithDefaultCfg(h host.Host, outStream StreamHandler) (*Discover, error) {
	return NewDiscover(NewDefaultDiscoverConfig(), h, outStream)
}

// ShouldDial reports whether this host opens the stream to remote. Only the
// side with the lower id dials so each pair gets a single stream.
func ShouldDial(local, remote peer.ID) bool {
	return local < remote
}

// MarkPeer records remote as connected, whichever side dialed.
func (d *Discover) MarkPeer(remote peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[remote]; ok {
		return false
	}
	d.known[remote] = struct{}{}
	d.firstOnce.Do(func() { close(d.first) })
	return true
}

// Forget allows remote to be dialed again after it went away.
func (d *Discover) Forget(remote peer.ID) {
	d.mu.Lock()
	delete(d.known, remote)
	d.mu.Unlock()
}

func (d *Discover) Known(remote peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.known[remote]
	return ok
}

// FirstPeer is closed when the first peer connects.
func (d *Discover) FirstPeer() <-chan struct{} {
	return d.first
}

// ProcessOnePeer dials a discovered peer and hands the stream to OutStream.
// It reports whether a new stream was opened.
func (d *Discover) ProcessOnePeer(ctx context.Context, p peer.AddrInfo) bool {
	if p.ID == d.Host.ID() || !ShouldDial(d.Host.ID(), p.ID) || d.Known(p.ID) {
		return false
	}

	log.Debug().Str("peer", p.String()).Msg("Found peer")
	if err := d.Host.Connect(ctx, p); err != nil {
		log.Warn().Str("peer", p.String()).Err(err).Msg("Connection failed")
		return false
	}

	stream, err := d.Host.NewStream(ctx, p.ID, protocol.ID(d.Cfg.ProtocolId))
	if err != nil {
		log.Warn().Str("peer", p.String()).Err(err).Msg("Stream failed")
		return false
	}
	if !d.MarkPeer(p.ID) {
		_ = stream.Reset()
		return false
	}
	go d.OutStream(stream)

	log.Info().Str("peer", p.ID.String()).Msg("Connected to peer")
	return true
}
