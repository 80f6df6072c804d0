package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrProtocolNotSupported = errors.New("transport: protocol not supported")

const (
	ackOK = "ok"
	ackNA = "na"
)

// StreamHandler receives a negotiated inbound substream. It owns s.
type StreamHandler func(ctx context.Context, protocol string, s io.ReadWriteCloser)

// Negotiate proposes protocol on a freshly opened stream and waits for the answer.
func Negotiate(rw io.ReadWriter, protocol string) error {
	if err := WriteFrame(rw, []byte(protocol)); err != nil {
		return err
	}
	ack, err := ReadFrame(rw)
	if err != nil {
		return err
	}
	switch string(ack) {
	case ackOK:
		return nil
	case ackNA:
		return fmt.Errorf("%w: %s", ErrProtocolNotSupported, protocol)
	}
	return fmt.Errorf("transport: unexpected negotiation reply %q", ack)
}

// AcceptProtocol reads the proposed protocol and answers it.
func AcceptProtocol(rw io.ReadWriter, supported func(string) bool) (string, error) {
	b, err := ReadFrame(rw)
	if err != nil {
		return "", err
	}
	protocol := string(b)
	if supported == nil || !supported(protocol) {
		_ = WriteFrame(rw, []byte(ackNA))
		return "", fmt.Errorf("%w: %s", ErrProtocolNotSupported, protocol)
	}
	if err := WriteFrame(rw, []byte(ackOK)); err != nil {
		return "", err
	}
	return protocol, nil
}

// Protocols is a set of supported protocol ids.
type Protocols map[string]StreamHandler

func (p Protocols) Supports(protocol string) bool {
	_, ok := p[protocol]
	return ok
}

// Serve negotiates an inbound stream and hands it to the registered handler.
func (p Protocols) Serve(ctx context.Context, s io.ReadWriteCloser) error {
	protocol, err := AcceptProtocol(s, p.Supports)
	if err != nil {
		_ = s.Close()
		return err
	}
	p[protocol](ctx, protocol, s)
	return nil
}
