package discovery

import (
	"context"
	"errors"
	"p2p-voice/internal/p2p/base"
	"p2p-voice/internal/p2p/dht"
	"p2p-voice/internal/p2p/mdns"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DiscoverManager runs mDNS and, when no peer shows up on the local network
// in time, the DHT as well.
type DiscoverManager struct {
	*base.Discover
}

func NewDiscover(cfg *base.DiscoverConfig, h host.Host, outStream base.StreamHandler) (*DiscoverManager, error) {
	d, err := base.NewDiscover(cfg, h, outStream)
	if err != nil {
		return nil, err
	}
	return &DiscoverManager{d}, nil
}

// StartDiscovery blocks until ctx ends.
func (d *DiscoverManager) StartDiscovery(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	mdnsDiscover := mdns.MDNSDiscovery{Discover: d.Discover}
	g.Go(func() error {
		err := mdnsDiscover.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// the DHT can still find peers
			log.Warn().Err(err).Msg("mDNS discovery failed")
			return nil
		}
		return err
	})

	g.Go(func() error {
		select {
		case <-d.FirstPeer():
			log.Info().Msg("Peer found on the local network")
			<-ctx.Done()
			return ctx.Err()
		case <-time.After(d.Cfg.MDNSTimeout):
			log.Warn().Dur("timeout", d.Cfg.MDNSTimeout).Msg("No peer over mDNS, falling back to DHT")
		case <-ctx.Done():
			return ctx.Err()
		}
		dhtDiscover := dht.DhtDiscover{Discover: d.Discover}
		err := dhtDiscover.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("DHT discovery failed")
			return nil
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
