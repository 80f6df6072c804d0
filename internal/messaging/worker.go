package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/transport"
)

type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateDialing
	StateSubstreamNegotiating
	StateStreaming
	StateFailed
	StateClosed
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateSubstreamNegotiating:
		return "substream_negotiating"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// worker delivers messages to a single peer in queue order.
type worker struct {
	peer  dht.NodeID
	queue chan OutboundMessage

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	state     atomic.Int32
}

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) setState(s WorkerState) { w.state.Store(int32(s)) }

func (p *Protocol) runWorker(w *worker) {
	defer p.wg.Done()
	defer w.cancel()

	log := p.logger.With(zap.Stringer("peer", w.peer))
	err := p.deliver(w, log)
	switch {
	case err == nil:
		w.setState(StateClosed)
		log.Debug("outbound worker closed")
	case errors.Is(err, context.Canceled):
		w.setState(StateClosed)
		log.Debug("outbound worker cancelled")
	default:
		w.setState(StateFailed)
		log.Error("outbound worker failed", zap.Error(err))
	}
}

func (p *Protocol) deliver(w *worker, log *zap.Logger) error {
	w.setState(StateDialing)
	conn, err := p.dial(w, log)
	if err != nil {
		p.abort(w)
		if w.ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("%w: %v", ErrPeerDialFailed, err)
	}
	defer conn.Close()

	w.setState(StateSubstreamNegotiating)
	s, err := conn.OpenSubstream(w.ctx, ProtocolID)
	if err != nil {
		p.abort(w)
		if w.ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("%w: %v", ErrSubstreamFailed, err)
	}
	defer s.Close()

	w.setState(StateStreaming)
	return p.stream(w, s, log)
}

// dial retries tie-break cancellations until it connects, fails, or the
// worker is cancelled.
func (p *Protocol) dial(w *worker, log *zap.Logger) (Connection, error) {
	for {
		conn, err := p.connMgr.DialPeer(w.ctx, w.peer)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, ErrDialCancelled) || w.ctx.Err() != nil {
			return nil, err
		}
		log.Debug("dial cancelled, retrying")
		t := time.NewTimer(p.cfg.DialRetryBackoff)
		select {
		case <-w.ctx.Done():
			t.Stop()
			return nil, w.ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Protocol) stream(w *worker, s io.Writer, log *zap.Logger) error {
	var idle <-chan time.Time
	var idleTimer *time.Timer
	if p.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(p.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case <-w.ctx.Done():
			p.abort(w)
			return context.Canceled

		case <-idle:
			// Stop accepting new messages; whatever is already queued still goes out.
			log.Debug("outbound worker idle, closing")
			idle = nil
			p.retire(w)

		case msg, ok := <-w.queue:
			if !ok {
				return nil
			}
			if w.ctx.Err() != nil {
				p.failed(msg)
				p.abort(w)
				return context.Canceled
			}
			if len(msg.Body) > MaxMessageSize {
				// Nothing was written, the substream is still good.
				log.Warn("message too large, not sent",
					zap.Stringer("tag", msg.Tag), zap.Int("bytes", len(msg.Body)))
				p.failed(msg)
				continue
			}
			frame, err := sealEnvelope(p.identity, msg.Body)
			if err != nil {
				log.Error("failed to build envelope", zap.Stringer("tag", msg.Tag), zap.Error(err))
				p.failed(msg)
				continue
			}
			if err := transport.WriteFrame(s, frame); err != nil {
				p.failed(msg)
				p.abort(w)
				return fmt.Errorf("%w: %v", ErrOutboundSubstreamFailure, err)
			}
			p.sent(w, msg)
			log.Debug("message sent", zap.Stringer("tag", msg.Tag))

			if idle != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(p.cfg.IdleTimeout)
			}
		}
	}
}

// abort detaches w and reports every message still queued as failed.
func (p *Protocol) abort(w *worker) {
	p.retire(w)
	for msg := range w.queue {
		p.failed(msg)
	}
}
