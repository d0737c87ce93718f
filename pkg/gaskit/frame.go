// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

import "fmt"

// DecodeErrorKind classifies frame decoding failures.
type DecodeErrorKind int

const (
	// MalformedHeader means the start marker, address or command byte did
	// not match what the caller expected.
	MalformedHeader DecodeErrorKind = iota
	// ChecksumMismatch means the trailing checksum byte disagrees with the
	// value recomputed over the frame body.
	ChecksumMismatch
	// ShortFrame means the buffer is too small to hold a frame at all.
	ShortFrame
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedHeader:
		return "malformed header"
	case ChecksumMismatch:
		return "checksum mismatch"
	case ShortFrame:
		return "short frame"
	}
	return "unknown"
}

// DecodeError is returned by Decode when a reply fails validation.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ErrPayloadTooLong is returned by Encode for payloads over MaxPayload bytes.
var ErrPayloadTooLong = fmt.Errorf("payload exceeds %d bytes", MaxPayload)

// Frame is a decoded GasKitLink frame. Payload aliases the buffer passed to
// Decode; callers that keep the frame must copy it.
type Frame struct {
	Address [AddressSize]byte
	Command byte
	Payload []byte
}

// Checksum computes the GasKitLink XOR checksum over an assembled frame
// prefix. The fold starts at the first address byte and covers everything up
// to the end of the payload; the start marker never contributes.
func Checksum(frame []byte) byte {
	if len(frame) < 2 {
		return 0
	}
	c := frame[1]
	for _, b := range frame[2:] {
		c ^= b
	}
	return c
}

// Encode assembles a wire frame for the given address, command and payload.
func Encode(address [AddressSize]byte, command byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLong
	}
	frame := make([]byte, 0, 1+AddressSize+1+len(payload)+1)
	frame = append(frame, StartMarker)
	frame = append(frame, address[0], address[1])
	frame = append(frame, command)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(frame))
	return frame, nil
}

// Decode validates a complete reply against the expected address and command
// and returns the parsed frame. The whole buffer is taken as one frame; the
// final byte is the checksum.
func Decode(buf []byte, address [AddressSize]byte, command byte) (Frame, error) {
	if len(buf) < 1+AddressSize+1+1 {
		return Frame{}, &DecodeError{Kind: ShortFrame, Detail: fmt.Sprintf("%d bytes", len(buf))}
	}
	if buf[0] != StartMarker {
		return Frame{}, &DecodeError{Kind: MalformedHeader, Detail: fmt.Sprintf("start marker 0x%02X", buf[0])}
	}
	if buf[1] != address[0] || buf[2] != address[1] {
		return Frame{}, &DecodeError{Kind: MalformedHeader, Detail: fmt.Sprintf("address %02X%02X", buf[1], buf[2])}
	}
	if buf[3] != command {
		return Frame{}, &DecodeError{Kind: MalformedHeader, Detail: fmt.Sprintf("command %q, want %q", buf[3], command)}
	}
	want := Checksum(buf[:len(buf)-1])
	if got := buf[len(buf)-1]; got != want {
		return Frame{}, &DecodeError{Kind: ChecksumMismatch, Detail: fmt.Sprintf("0x%02X, want 0x%02X", got, want)}
	}
	var addr [AddressSize]byte
	copy(addr[:], buf[1:3])
	return Frame{Address: addr, Command: buf[3], Payload: buf[4 : len(buf)-1]}, nil
}
