package noiseconn

import (
	"encoding/binary"
	"errors"
	"io"
)

var errHandshakeTooLong = errors.New("noiseconn: handshake message too long")

// writeHandshakeMsg sends a handshake message behind a 2-byte length.
func writeHandshakeMsg(w io.Writer, msg []byte) error {
	if len(msg) > maxMsgLen {
		return errHandshakeTooLong
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(msg)))
	copy(buf[2:], msg)
	_, err := w.Write(buf)
	return err
}

func readHandshakeMsg(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, errors.New("noiseconn: empty handshake message")
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
