// Package api exposes the REST surface of the vault daemon: subject
// policy management, authorization and holds, escrow lifecycle calls,
// gas sponsorship, and chain status queries. All amounts cross the wire
// as decimal strings.
package api
