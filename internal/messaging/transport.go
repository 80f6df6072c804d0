package messaging

import (
	"context"
	"errors"
	"io"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/transport"
)

// ProtocolID names the messaging substream protocol.
const ProtocolID = "/relay/messaging/1.0"

var (
	// ErrDialCancelled is returned by a ConnectionManager when the dial lost a
	// tie-break against a simultaneous dial. The worker dials again.
	ErrDialCancelled = transport.ErrDialCancelled

	ErrPeerDialFailed           = errors.New("messaging: peer dial failed")
	ErrSubstreamFailed          = errors.New("messaging: failed to open substream")
	ErrOutboundSubstreamFailure = errors.New("messaging: outbound substream failure")
)

// ConnectionManager establishes connections to peers by NodeID.
type ConnectionManager interface {
	DialPeer(ctx context.Context, peer dht.NodeID) (Connection, error)
}

// Connection is an established, authenticated link to one peer.
type Connection interface {
	PeerNodeID() dht.NodeID
	OpenSubstream(ctx context.Context, protocol string) (io.ReadWriteCloser, error)
	Close() error
}
