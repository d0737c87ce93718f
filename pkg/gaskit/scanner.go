// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

import "fmt"

// ReplyLength returns the full wire length of a pump reply for the given
// command byte, or false for commands the pump does not answer with a framed
// reply.
func ReplyLength(command byte) (int, bool) {
	switch command {
	case CmdStatus:
		return StatusReplyLen, true
	case CmdLitersMonitor, CmdRevenueMonitor:
		return MonitorReplyLen, true
	case CmdTransactionUpdate:
		return TransactionEndReplyLen, true
	case CmdTotalCounter:
		return TotalCounterReplyLen, true
	}
	return 0, false
}

// Scanner recovers frames from a passively observed byte stream. Unlike
// Decode, which validates a reply of known shape, the Scanner resynchronizes
// on the start marker and derives the frame length from the command byte, so
// it can follow a link it does not drive.
type Scanner struct {
	buf      []byte
	expected int
	skipped  int
}

// NewScanner creates a scanner with an empty window.
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, MaxFrame)}
}

// Skipped returns the total number of bytes discarded while hunting for a
// start marker.
func (s *Scanner) Skipped() int {
	return s.skipped
}

func (s *Scanner) reset() {
	s.buf = s.buf[:0]
	s.expected = 0
}

// Feed processes one byte. It returns a completed frame once the expected
// number of bytes has arrived and the checksum holds, or an error when the
// command byte is unknown or the checksum fails. Both outcomes reset the
// scanner; a nil, nil return means the frame is still incomplete.
func (s *Scanner) Feed(b byte) (*Frame, error) {
	if len(s.buf) == 0 {
		if b != StartMarker {
			s.skipped++
			return nil, nil
		}
		s.buf = append(s.buf, b)
		return nil, nil
	}

	s.buf = append(s.buf, b)
	if len(s.buf) == 4 {
		n, ok := ReplyLength(s.buf[3])
		if !ok {
			s.reset()
			return nil, fmt.Errorf("unknown command byte 0x%02X", b)
		}
		s.expected = n
	}
	if s.expected == 0 || len(s.buf) < s.expected {
		return nil, nil
	}

	want := Checksum(s.buf[:s.expected-1])
	if got := s.buf[s.expected-1]; got != want {
		s.reset()
		return nil, &DecodeError{Kind: ChecksumMismatch, Detail: fmt.Sprintf("0x%02X, want 0x%02X", got, want)}
	}

	var addr [AddressSize]byte
	copy(addr[:], s.buf[1:3])
	f := &Frame{
		Address: addr,
		Command: s.buf[3],
		Payload: append([]byte(nil), s.buf[4:s.expected-1]...),
	}
	s.reset()
	return f, nil
}
