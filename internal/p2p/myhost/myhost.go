package host

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ListenAddresses []multiaddr.Multiaddr
	PrivKey         crypto.PrivKey // generated when nil
}

// ListenAddr builds a tcp listen address for host and port. Port 0 picks a
// free port.
func ListenAddr(host string, port int) (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", host, port))
}

// New creates a new libp2p Host with the given options.
func New(ctx context.Context, opts Options) (host.Host, error) {
	if opts.PrivKey == nil {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate host key: %w", err)
		}
		opts.PrivKey = priv
	}
	h, err := libp2p.New(
		libp2p.ListenAddrs(opts.ListenAddresses...),
		libp2p.Identity(opts.PrivKey),
	)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", h.ID().String()).
		Any("address", h.Addrs()).
		Msg("Host created.")
	return h, nil
}
