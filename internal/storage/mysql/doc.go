// Package mysql provides MySQL-backed persistence for policy subjects and
// escrows. It encapsulates connection pooling, schema migrations, and the
// JSON document mapping used to round-trip big.Int amounts losslessly.
package mysql
