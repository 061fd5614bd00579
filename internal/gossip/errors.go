package gossip

import "errors"

// Error definitions
var (
	// ErrPeerUnreachable means a peer could not be contacted. Recoverable:
	// the peer is retried on the next sync cycle and never fails the
	// overall fetch.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrNoAddress means a peer has no known address to dial.
	ErrNoAddress = errors.New("peer has no known address")
)
