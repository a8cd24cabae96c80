package libp2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2p_pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// NewHost creates a new libp2p host listening on the given TCP port.
func NewHost(port int, opts ...libp2p.Option) (host.Host, error) {
	addrs := []string{
		"/ip4/0.0.0.0/tcp/%d",
		"/ip6/::/tcp/%d",
	}
	listenAddrs := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		addr, addrErr := multiaddr.NewMultiaddr(fmt.Sprintf(s, port))
		if addrErr != nil {
			return nil, addrErr
		}
		listenAddrs = append(listenAddrs, addr)
	}

	opts = append(opts, libp2p.ListenAddrs(listenAddrs...))
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	p2pAddr, err := multiaddr.NewMultiaddr("/p2p/" + h.ID().String())
	if err != nil {
		return nil, err
	}
	p2pAddresses := lo.Map(h.Addrs(), func(m multiaddr.Multiaddr, _ int) string {
		return m.Encapsulate(p2pAddr).String()
	})

	log.Info().
		Strs("p2p-addresses", p2pAddresses).
		Stringer("host-id", h.ID()).
		Msgf("started libp2p host")

	return h, err
}

// NewGossipSub creates a gossipsub router on the host.
func NewGossipSub(ctx context.Context, h host.Host) (*libp2p_pubsub.PubSub, error) {
	return libp2p_pubsub.NewGossipSub(ctx, h)
}

// ConnectToPeers dials the given peers, logging failures without aborting.
func ConnectToPeers(ctx context.Context, h host.Host, peers []multiaddr.Multiaddr) error {
	for _, peerAddress := range peers {
		info, err := peer.AddrInfoFromP2pAddr(peerAddress)
		if err != nil {
			return err
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.Ctx(ctx).Warn().Err(err).Stringer("peer", peerAddress).Msg("failed to connect to peer")
		}
	}
	return nil
}
