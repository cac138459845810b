package dht

import (
	"context"
	"p2p-voice/internal/p2p/base"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/rs/zerolog/log"
)

type DhtDiscover struct {
	*base.Discover
}

func (d *DhtDiscover) Start(ctx context.Context) error {
	bootstrapPeers := make([]peer.AddrInfo, 0, len(d.Cfg.BootstrapPeers))
	for _, addr := range d.Cfg.BootstrapPeers {
		peerinfo, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addr.String()).Msg("Skipping bootstrap peer")
			continue
		}
		bootstrapPeers = append(bootstrapPeers, *peerinfo)
	}
	kademliaDHT, err := dht.New(ctx, d.Host, dht.BootstrapPeers(bootstrapPeers...))
	if err != nil {
		return err
	}
	defer kademliaDHT.Close()

	log.Debug().Msg("Bootstrapping the DHT...")
	if err = kademliaDHT.Bootstrap(ctx); err != nil {
		return err
	}

	// Bootstrap returns before the routing table is populated
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Debug().Msg("Announcing presence...")
	routingDiscovery := drouting.NewRoutingDiscovery(kademliaDHT)
	dutil.Advertise(ctx, routingDiscovery, d.Cfg.RendezvousString)
	log.Debug().Msg("Successfully announced!")

	interval := d.Cfg.FindInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	for {
		log.Info().Int("rt_size", kademliaDHT.RoutingTable().Size()).Msg("Searching for other peers...")

		peerChan, err := routingDiscovery.FindPeers(ctx, d.Cfg.RendezvousString)
		if err != nil {
			return err
		}
		for p := range peerChan {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.ProcessOnePeer(ctx, p)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
