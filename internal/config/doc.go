// Package config loads the daemon's JSON configuration file and fills
// in defaults for anything the operator leaves out. Amount fields are
// carried as decimal strings so they survive JSON without precision
// loss and are converted to big integers on demand.
package config
