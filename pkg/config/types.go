package config

import (
	"time"

	"github.com/coopmesh-project/coopmesh/pkg/selection"
)

type CoopmeshConfig struct {
	// NodeID is the identity this node publishes and bids under.
	NodeID string `mapstructure:"node_id"`

	// DataDir holds the bolt database and other node state.
	DataDir string `mapstructure:"data_dir"`

	Libp2p      Libp2pConfig      `mapstructure:"libp2p"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Mana        ManaConfig        `mapstructure:"mana"`
	Anchor      AnchorConfig      `mapstructure:"anchor"`
}

type Libp2pConfig struct {
	// Port is the TCP port the libp2p host listens on.
	Port int `mapstructure:"port"`

	// Peers are multiaddrs of peers to connect to at startup.
	Peers []string `mapstructure:"peers"`
}

type MarketplaceConfig struct {
	// BidWindow is how long a bidding session stays open.
	BidWindow time.Duration `mapstructure:"bid_window"`

	// BidQuorum closes a session early once this many distinct bidders have
	// bid. Zero disables early close.
	BidQuorum int `mapstructure:"bid_quorum"`

	// AckTimeout is how long an assigned executor has to acknowledge before
	// the job returns to bidding without it.
	AckTimeout time.Duration `mapstructure:"ack_timeout"`

	// RetryLimit bounds how many times a job re-enters bidding.
	RetryLimit int `mapstructure:"retry_limit"`

	// SelectionWeights combine price, reputation and latency when choosing
	// a winning bid. They must sum to one.
	SelectionWeights selection.Weights `mapstructure:"selection_weights"`
}

type ManaConfig struct {
	// InitialBalance is the balance granted to a newly seen identity.
	InitialBalance uint64 `mapstructure:"initial_balance"`

	// Capacity caps every balance.
	Capacity uint64 `mapstructure:"capacity"`

	// RegenerationRate is mana regained per second, up to capacity.
	RegenerationRate uint64 `mapstructure:"regeneration_rate"`

	// RegenerationInterval is how often regeneration is applied.
	RegenerationInterval time.Duration `mapstructure:"regeneration_interval"`
}

type AnchorConfig struct {
	// RetryBaseBackoff is the first retry delay after a failed anchor write.
	RetryBaseBackoff time.Duration `mapstructure:"retry_base_backoff"`

	// RetryMaxBackoff caps the exponential retry delay.
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`

	// RetryAttempts bounds the writes within a single anchor attempt. A
	// failed attempt never fails the job; the sweep picks the receipt up
	// again until the write lands.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryInterval is how often completed jobs with an unanchored receipt
	// are swept and retried. Zero disables the sweep.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}
