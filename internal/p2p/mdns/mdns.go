package mdns

import (
	"context"
	"p2p-voice/internal/p2p/base"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog/log"
)

type MDNSDiscovery struct {
	*base.Discover
}

type discoveryNotifee struct {
	PeerChan chan peer.AddrInfo
	ctx      context.Context
}

// HandlePeerFound is called by the mDNS service for every announcement.
func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	select {
	case n.PeerChan <- pi:
	case <-n.ctx.Done():
	}
}

func initMDNS(ctx context.Context, peerhost host.Host, rendezvous string) (chan peer.AddrInfo, mdns.Service, error) {
	n := &discoveryNotifee{PeerChan: make(chan peer.AddrInfo), ctx: ctx}
	ser := mdns.NewMdnsService(peerhost, rendezvous, n)
	if err := ser.Start(); err != nil {
		return nil, nil, err
	}
	return n.PeerChan, ser, nil
}

// Start announces the host on the local network and dials peers as they
// appear, until ctx ends.
func (m *MDNSDiscovery) Start(ctx context.Context) error {
	log.Info().Msg("Start mdns discovery")
	peerChan, ser, err := initMDNS(ctx, m.Host, m.Cfg.RendezvousString)
	if err != nil {
		return err
	}
	defer ser.Close()
	log.Info().Str("host", m.Host.ID().String()).Msg("mDNS service started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("mDNS discovery stopped")
			return ctx.Err()
		case p := <-peerChan:
			m.ProcessOnePeer(ctx, p)
		}
	}
}
