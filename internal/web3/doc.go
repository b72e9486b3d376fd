// Package web3 houses blockchain connectivity for the vault: RPC clients
// and multi-chain configuration helpers. Chain and token identifiers are
// opaque to the policy and escrow engines; this package only supplies
// network metadata snapshots and an optional block-time clock source so
// deadline evaluation can follow chain time instead of wall time.
package web3
