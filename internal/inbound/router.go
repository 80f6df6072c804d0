package inbound

import (
	"context"

	"go.uber.org/zap"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/telemetry"
)

// Router is the terminal stage. It hands messages meant for this node to
// the handler registered for their type.
type Router struct {
	routes map[envelope.MessageType]Handler
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[envelope.MessageType]Handler),
		logger: telemetry.OrNop(logger).Named("router"),
	}
}

// Route registers h for t. Register everything before the pipeline runs.
func (r *Router) Route(t envelope.MessageType, h Handler) *Router {
	r.routes[t] = h
	return r
}

func (r *Router) HandleMessage(ctx context.Context, msg *DecryptedMessage) error {
	if !msg.ForThisNode {
		return nil
	}
	h, ok := r.routes[msg.Header.MessageType]
	if !ok {
		r.logger.Debug("no route for message type", zap.Stringer("type", msg.Header.MessageType))
		return nil
	}
	return h.HandleMessage(ctx, msg)
}
