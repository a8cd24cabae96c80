package node

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coopmesh-project/coopmesh/pkg/anchor"
	"github.com/coopmesh-project/coopmesh/pkg/bidding"
	"github.com/coopmesh-project/coopmesh/pkg/config"
	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	boltjobstore "github.com/coopmesh-project/coopmesh/pkg/jobstore/boltdb"
	"github.com/coopmesh-project/coopmesh/pkg/lib/backoff"
	"github.com/coopmesh-project/coopmesh/pkg/mana"
	"github.com/coopmesh-project/coopmesh/pkg/models"
	"github.com/coopmesh-project/coopmesh/pkg/orchestrator"
	"github.com/coopmesh-project/coopmesh/pkg/orchestrator/retry"
	"github.com/coopmesh-project/coopmesh/pkg/reputation"
	"github.com/coopmesh-project/coopmesh/pkg/selection"
	"github.com/coopmesh-project/coopmesh/pkg/transport"
	libp2ptransport "github.com/coopmesh-project/coopmesh/pkg/transport/libp2p"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
)

const (
	JobAnnouncementTopic  = "coopmesh/jobs/announce"
	BidTopic              = "coopmesh/jobs/bid"
	AssignmentTopic       = "coopmesh/jobs/assign"
	ExecutionStartedTopic = "coopmesh/jobs/started"
	ReceiptTopic          = "coopmesh/jobs/receipt"

	jobstoreFileName = "jobs.db"
)

// Node wires the marketplace components of a single peer: the libp2p
// transport, the job store, the mana ledger, the trust gate and the
// lifecycle manager on top of them.
type Node struct {
	ID         string
	Host       host.Host
	Manager    *orchestrator.Manager
	Gate       *trust.Gate
	Ledger     mana.Ledger
	Store      jobstore.Store
	Reputation reputation.Store

	announcements transport.PubSub[models.JobAnnouncement]
	bids          transport.PubSub[models.BidMessage]
	assignments   transport.PubSub[models.AssignmentNotice]
	started       transport.PubSub[models.ExecutionStartedMessage]
	receipts      transport.PubSub[models.ReceiptMessage]
}

func NewNode(ctx context.Context, cfg config.CoopmeshConfig) (*Node, error) {
	h, err := libp2ptransport.NewHost(cfg.Libp2p.Port)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = h.ID().String()
	}

	gossipSub, err := libp2ptransport.NewGossipSub(ctx, h)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gossipsub router")
	}

	if len(cfg.Libp2p.Peers) > 0 {
		peers := make([]multiaddr.Multiaddr, 0, len(cfg.Libp2p.Peers))
		for _, addr := range cfg.Libp2p.Peers {
			maddr, addrErr := multiaddr.NewMultiaddr(addr)
			if addrErr != nil {
				return nil, errors.Wrapf(addrErr, "invalid peer multiaddr %q", addr)
			}
			peers = append(peers, maddr)
		}
		if err = libp2ptransport.ConnectToPeers(ctx, h, peers); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to connect to some bootstrap peers")
		}
	}

	store, err := boltjobstore.NewBoltJobStore(filepath.Join(cfg.DataDir, jobstoreFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open job store")
	}

	ledger := mana.NewInMemoryLedger(mana.InMemoryLedgerParams{
		InitialBalance:   cfg.Mana.InitialBalance,
		Capacity:         cfg.Mana.Capacity,
		RegenerationRate: cfg.Mana.RegenerationRate,
	})
	reputationStore := reputation.NewInMemoryStore()
	gate := trust.NewGate(trust.GateParams{Reputation: reputationStore})

	announcements, err := libp2ptransport.NewPubSub[models.JobAnnouncement](ctx, libp2ptransport.PubSubParams{
		Host:      h,
		TopicName: JobAnnouncementTopic,
		PubSub:    gossipSub,
	})
	if err != nil {
		return nil, err
	}
	bids, err := libp2ptransport.NewPubSub[models.BidMessage](ctx, libp2ptransport.PubSubParams{
		Host:        h,
		TopicName:   BidTopic,
		PubSub:      gossipSub,
		IgnoreLocal: true,
	})
	if err != nil {
		return nil, err
	}
	assignments, err := libp2ptransport.NewPubSub[models.AssignmentNotice](ctx, libp2ptransport.PubSubParams{
		Host:      h,
		TopicName: AssignmentTopic,
		PubSub:    gossipSub,
	})
	if err != nil {
		return nil, err
	}
	started, err := libp2ptransport.NewPubSub[models.ExecutionStartedMessage](ctx, libp2ptransport.PubSubParams{
		Host:        h,
		TopicName:   ExecutionStartedTopic,
		PubSub:      gossipSub,
		IgnoreLocal: true,
	})
	if err != nil {
		return nil, err
	}
	receipts, err := libp2ptransport.NewPubSub[models.ReceiptMessage](ctx, libp2ptransport.PubSubParams{
		Host:        h,
		TopicName:   ReceiptTopic,
		PubSub:      gossipSub,
		IgnoreLocal: true,
	})
	if err != nil {
		return nil, err
	}

	selector, err := selection.NewSelector(selection.SelectorParams{
		Gate:       gate,
		Reputation: reputationStore,
		Ledger:     ledger,
		Weights:    cfg.Marketplace.SelectionWeights,
	})
	if err != nil {
		return nil, err
	}

	manager := orchestrator.NewManager(orchestrator.ManagerParams{
		NodeID:     nodeID,
		Store:      store,
		Ledger:     ledger,
		Gate:       gate,
		Reputation: reputationStore,
		Collector: bidding.NewCollector(bidding.CollectorParams{
			Gate:   gate,
			Quorum: cfg.Marketplace.BidQuorum,
		}),
		Selector: selector,
		Anchorer: orchestrator.NewAnchorer(orchestrator.AnchorerParams{
			Writer:   anchor.NewInMemoryWriter(),
			Backoff:  backoff.NewExponential(cfg.Anchor.RetryBaseBackoff, cfg.Anchor.RetryMaxBackoff),
			Attempts: cfg.Anchor.RetryAttempts,
		}),
		Announcements:        announcements,
		Assignments:          assignments,
		RetryStrategy:        retry.NewLimitStrategy(),
		BidWindow:            cfg.Marketplace.BidWindow,
		AckTimeout:           cfg.Marketplace.AckTimeout,
		RetryLimit:           cfg.Marketplace.RetryLimit,
		RegenerationInterval: cfg.Mana.RegenerationInterval,
		AnchorRetryInterval:  cfg.Anchor.RetryInterval,
	})

	node := &Node{
		ID:            nodeID,
		Host:          h,
		Manager:       manager,
		Gate:          gate,
		Ledger:        ledger,
		Store:         store,
		Reputation:    reputationStore,
		announcements: announcements,
		bids:          bids,
		assignments:   assignments,
		started:       started,
		receipts:      receipts,
	}
	return node, nil
}

// Start subscribes the lifecycle manager to the incoming topics and begins
// serving requests.
func (n *Node) Start(ctx context.Context) error {
	if err := n.bids.Subscribe(ctx, transport.SubscriberFunc[models.BidMessage](n.Manager.HandleBid)); err != nil {
		return err
	}
	if err := n.started.Subscribe(ctx, transport.SubscriberFunc[models.ExecutionStartedMessage](n.Manager.HandleExecutionStarted)); err != nil {
		return err
	}
	if err := n.receipts.Subscribe(ctx, transport.SubscriberFunc[models.ReceiptMessage](n.Manager.HandleReceipt)); err != nil {
		return err
	}
	if err := n.Manager.Start(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("NodeID", n.ID).Msg("coopmesh node started")
	return nil
}

// Stop shuts the node down, aggregating close failures so every component
// gets its chance to clean up.
func (n *Node) Stop(ctx context.Context) error {
	var mErr *multierror.Error
	mErr = multierror.Append(mErr, n.Manager.Stop(ctx))
	for _, pubSub := range []interface{ Close(context.Context) error }{
		n.announcements, n.bids, n.assignments, n.started, n.receipts,
	} {
		mErr = multierror.Append(mErr, pubSub.Close(ctx))
	}
	mErr = multierror.Append(mErr, n.Store.Close(ctx))
	mErr = multierror.Append(mErr, n.Host.Close())
	return mErr.ErrorOrNil()
}
