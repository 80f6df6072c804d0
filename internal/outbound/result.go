package outbound

import (
	"context"

	"p2p-relay/internal/messaging"
)

type SendStatus int

const (
	StatusQueued SendStatus = iota
	StatusFailed
	StatusPendingDiscovery
)

func (s SendStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusFailed:
		return "failed"
	case StatusPendingDiscovery:
		return "pending_discovery"
	}
	return "unknown"
}

// SendResult is the immediate outcome of a send. Queued carries one tag per
// recipient; delivery itself is reported on the messaging event stream.
type SendResult struct {
	Status SendStatus
	Tags   []messaging.MessageTag

	pending <-chan SendResult
}

func queued(tags []messaging.MessageTag) SendResult {
	return SendResult{Status: StatusQueued, Tags: tags}
}

func failed() SendResult { return SendResult{Status: StatusFailed} }

// PendingResult wraps a channel that will carry the final result of a
// pending discovery.
func PendingResult(final <-chan SendResult) SendResult {
	return SendResult{Status: StatusPendingDiscovery, pending: final}
}

// Pending yields the final result of a PendingDiscovery send. It is nil for
// other statuses.
func (r SendResult) Pending() <-chan SendResult { return r.pending }

// Resolve waits out a pending discovery and returns a Queued or Failed result.
func (r SendResult) Resolve(ctx context.Context) (SendResult, error) {
	if r.Status != StatusPendingDiscovery {
		return r, nil
	}
	select {
	case res := <-r.pending:
		return res, nil
	case <-ctx.Done():
		return r, ctx.Err()
	}
}

func (r SendResult) IsQueued() bool { return r.Status == StatusQueued }
