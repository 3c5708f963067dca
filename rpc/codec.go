// Package rpc implements the length-prefixed request/response surface the
// Manager is exposed through: a 4-byte little-endian length prefix
// followed by a JSON payload.
package rpc

import (
	"encoding/binary"
	"io"

	"netmanthan/internal/nmerr"
)

// MaxFrameSize is the largest payload a single frame may carry; a frame
// claiming to be larger is a protocol error and terminates the connection.
const MaxFrameSize = 1024 * 1024

// ReadFrame reads one length-prefixed frame from r. It returns a Protocol
// error (never wrapped) if the declared length exceeds MaxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, nmerr.Protocol("frame exceeds maximum size")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return nmerr.Protocol("frame exceeds maximum size")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
