package web3

import (
	"context"
	"time"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	BlockTime   int64  `json:"block_time"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	// FetchChainSnapshot returns current network metadata.
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	// BlockTime returns the timestamp of the latest block.
	BlockTime(ctx context.Context) (time.Time, error)
	// Close releases network connections held by the client.
	Close()
}
