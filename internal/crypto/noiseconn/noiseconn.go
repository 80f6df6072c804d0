// Package noiseconn secures a byte stream with a Noise XX handshake.
package noiseconn

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/flynn/noise"
)

const (
	maxMsgLen = 65535
	tagLen    = 16
	// maxPlaintext is the most a single transport frame can carry.
	maxPlaintext = maxMsgLen - tagLen
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// GenerateStatic creates a fresh static keypair for the handshake.
func GenerateStatic() (noise.DHKey, error) {
	return cipherSuite.GenerateKeypair(rand.Reader)
}

// SecureConn wraps an underlying stream with Noise cipher states.
type SecureConn struct {
	underlying io.ReadWriteCloser

	rmu     sync.Mutex
	readCS  *noise.CipherState
	pending []byte

	wmu     sync.Mutex
	writeCS *noise.CipherState
}

// HandshakeResult is a secured conn plus what the remote sent during the
// handshake.
type HandshakeResult struct {
	Conn          *SecureConn
	RemoteStatic  []byte
	RemotePayload []byte
}

// Read decrypts frames as needed and serves p from the buffered plaintext.
func (c *SecureConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for len(c.pending) == 0 {
		var lenBuf [2]byte
		if _, err := io.ReadFull(c.underlying, lenBuf[:]); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n < tagLen {
			return 0, errors.New("noiseconn: invalid frame length")
		}
		ct := make([]byte, n)
		if _, err := io.ReadFull(c.underlying, ct); err != nil {
			return 0, err
		}
		pt, err := c.readCS.Decrypt(nil, nil, ct)
		if err != nil {
			return 0, err
		}
		c.pending = pt
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write encrypts p, splitting it over as many frames as needed.
func (c *SecureConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintext {
			chunk = chunk[:maxPlaintext]
		}
		ct, err := c.writeCS.Encrypt(nil, nil, chunk)
		if err != nil {
			return written, err
		}
		frame := make([]byte, 2+len(ct))
		binary.BigEndian.PutUint16(frame[:2], uint16(len(ct)))
		copy(frame[2:], ct)
		if _, err := c.underlying.Write(frame); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (c *SecureConn) Close() error {
	return c.underlying.Close()
}

func newHandshake(static noise.DHKey, initiator bool) (*noise.HandshakeState, error) {
	return noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
}

// Client runs the handshake as initiator. payload travels encrypted in the
// final handshake message.
func Client(underlying io.ReadWriteCloser, static noise.DHKey, payload []byte) (*HandshakeResult, error) {
	hs, err := newHandshake(static, true)
	if err != nil {
		return nil, err
	}

	// -> e
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- e, ee, s, es
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, in)
	if err != nil {
		return nil, err
	}

	// -> s, se
	msg, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	return &HandshakeResult{
		Conn:          &SecureConn{underlying: underlying, readCS: cs2, writeCS: cs1},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}

// Server runs the handshake as responder.
func Server(underlying io.ReadWriteCloser, static noise.DHKey, payload []byte) (*HandshakeResult, error) {
	hs, err := newHandshake(static, false)
	if err != nil {
		return nil, err
	}

	// <- e
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, in); err != nil {
		return nil, err
	}

	// -> e, ee, s, es
	msg, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- s, se
	in, err = readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, in)
	if err != nil {
		return nil, err
	}

	return &HandshakeResult{
		Conn:          &SecureConn{underlying: underlying, readCS: cs1, writeCS: cs2},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}
