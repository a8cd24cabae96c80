package config

import (
	"time"

	"github.com/coopmesh-project/coopmesh/pkg/selection"
)

// Default is the default configuration for a coopmesh node.
var Default = CoopmeshConfig{
	DataDir: ".coopmesh",
	Libp2p: Libp2pConfig{
		Port: 1235,
	},
	Marketplace: MarketplaceConfig{
		BidWindow:  30 * time.Second,
		BidQuorum:  0,
		AckTimeout: 15 * time.Second,
		RetryLimit: 2,
		SelectionWeights: selection.Weights{
			Cost:       0.5,
			Reputation: 0.4,
			Latency:    0.1,
		},
	},
	Mana: ManaConfig{
		InitialBalance:       100,
		Capacity:             1000,
		RegenerationRate:     1,
		RegenerationInterval: time.Second,
	},
	Anchor: AnchorConfig{
		RetryBaseBackoff: 250 * time.Millisecond,
		RetryMaxBackoff:  10 * time.Second,
		RetryAttempts:    5,
		RetryInterval:    30 * time.Second,
	},
}
