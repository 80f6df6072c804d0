package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
)

func TestFrame_RoundTripAndLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame empty: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil || string(got) != "abc" {
		t.Fatalf("ReadFrame: %q, %v", got, err)
	}
	got, err = ReadFrame(&buf)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty frame, got %q, %v", got, err)
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestNegotiate(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	got := make(chan string, 1)
	protos := Protocols{"/relay/1": func(ctx context.Context, protocol string, s io.ReadWriteCloser) {
		got <- protocol
	}}
	go func() { _ = protos.Serve(context.Background(), b) }()

	if err := Negotiate(a, "/relay/1"); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if p := <-got; p != "/relay/1" {
		t.Fatalf("handler got %q", p)
	}
}

func TestNegotiate_Unsupported(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() { _ = Protocols{}.Serve(context.Background(), b) }()

	if err := Negotiate(a, "/nope"); !errors.Is(err, ErrProtocolNotSupported) {
		t.Fatalf("expected ErrProtocolNotSupported, got %v", err)
	}
}
