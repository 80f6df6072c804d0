package node

import (
	"context"

	"go.uber.org/zap"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/storeforward"
)

// Send delivers an application message. When no route exists for a concrete
// destination and store-and-forward is enabled, the message is kept locally
// so neighbours of the recipient can fetch it later.
func (n *Node) Send(ctx context.Context, dest envelope.Destination, enc outbound.Encryption, body []byte) outbound.SendResult {
	res := n.dispatcher.Send(ctx, dest, envelope.MessageTypeNone, enc, body)
	if !n.cfg.StoreForward.Enabled || dest.IsUnknown() {
		return res
	}
	params := outbound.SendParams{
		Destination:   dest,
		MessageType:   envelope.MessageTypeNone,
		Encryption:    enc,
		IncludeOrigin: true,
	}
	switch res.Status {
	case outbound.StatusFailed:
		n.stageUndeliverable(ctx, params, body)
	case outbound.StatusPendingDiscovery:
		// The final result passes through here so failures get staged.
		pending := res.Pending()
		out := make(chan outbound.SendResult, 1)
		go func() {
			final := <-pending
			if final.Status == outbound.StatusFailed {
				n.stageUndeliverable(context.WithoutCancel(ctx), params, body)
			}
			out <- final
		}()
		return outbound.PendingResult(out)
	}
	return res
}

func (n *Node) stageUndeliverable(ctx context.Context, params outbound.SendParams, body []byte) {
	env, err := n.dispatcher.Seal(params, body)
	if err != nil {
		n.logger.Error("failed to seal undeliverable message", zap.Error(err))
		return
	}
	header, err := envelope.EncodeHeader(env.Header)
	if err != nil {
		n.logger.Error("failed to encode header", zap.Error(err))
		return
	}
	origin := n.identity.PublicKey()
	if env.Header.IsEncrypted() {
		origin = nil
	}
	msg := storeforward.FromHeader(env.Header, header, origin, env.Body, storeforward.PriorityHigh)
	stored, err := n.repo.Insert(ctx, msg)
	if err != nil {
		n.logger.Error("failed to stage undeliverable message", zap.Error(err))
		return
	}
	n.metrics.IncStored(storeforward.PriorityHigh.String())
	n.logger.Info("message staged for later delivery",
		zap.Stringer("destination", params.Destination), zap.Stringer("id", stored.ID))
}

// deliver hands a decrypted application message to Messages.
func (n *Node) deliver(ctx context.Context, msg *inbound.DecryptedMessage) error {
	m := Message{
		Tag:       msg.Tag,
		Origin:    msg.Origin(),
		Relay:     msg.Source,
		Encrypted: msg.Header.IsEncrypted(),
		Body:      msg.Plaintext,
	}
	select {
	case n.messages <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
