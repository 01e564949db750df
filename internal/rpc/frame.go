// Package rpc implements the Supervisor Core's wire boundary: a CBOR
// request/response envelope framed over a stream socket (spec §4.8, §6).
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize is the largest CBOR body this package will read or write
// (spec §6: "length > 6 MiB ⇒ protocol error").
const MaxFrameSize = 6 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the declared body length
// exceeds MaxFrameSize. The caller should close the connection: the wire
// contract treats this as a connection-level error, not a per-request one.
var ErrFrameTooLarge = fmt.Errorf("rpc: frame exceeds %d bytes", MaxFrameSize)

// ReadFrame reads one length-prefixed CBOR body from r: an 8-byte
// little-endian length followed by exactly that many bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body with its little-endian u64 length prefix.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadRequest reads and decodes one Request frame.
func ReadRequest(r io.Reader) (*Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("rpc: decode request: %w", err)
	}
	return &req, nil
}

// WriteResponse encodes and writes one Response frame.
func WriteResponse(w io.Writer, resp *Response) error {
	body, err := cbor.Marshal(resp)
	if err != nil {
		return fmt.Errorf("rpc: encode response: %w", err)
	}
	return WriteFrame(w, body)
}
