// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

import (
	"bytes"
	"strings"
	"testing"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_ExcludesStartMarker(t *testing.T) {
	frame := []byte{StartMarker, 0x00, 0x01, 'S'}
	altered := []byte{0xFF, 0x00, 0x01, 'S'}
	if Checksum(frame) != Checksum(altered) {
		t.Error("Checksum should not depend on the start marker byte")
	}
}

func TestChecksum_KnownValue(t *testing.T) {
	// 0x00 ^ 0x01 ^ 'S' = 0x52
	frame := []byte{StartMarker, 0x00, 0x01, 'S'}
	if got := Checksum(frame); got != 0x52 {
		t.Errorf("Checksum = 0x%02X, want 0x52", got)
	}
}

func TestChecksum_ShortInput(t *testing.T) {
	if got := Checksum([]byte{StartMarker}); got != 0 {
		t.Errorf("Checksum of 1-byte input = 0x%02X, want 0", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum of nil = 0x%02X, want 0", got)
	}
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncode_StatusPoll(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	frame, err := Encode(addr, CmdStatus, nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	want := []byte{StartMarker, 0x00, 0x01, 'S', 0x52}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode = % 02X, want % 02X", frame, want)
	}
}

func TestEncode_WithPayload(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x05}
	payload := []byte("1;000500;0150")
	frame, err := Encode(addr, CmdVolumeSale, payload)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	if frame[0] != StartMarker {
		t.Errorf("frame[0] = 0x%02X, want start marker", frame[0])
	}
	if frame[3] != CmdVolumeSale {
		t.Errorf("frame[3] = %q, want 'V'", frame[3])
	}
	if len(frame) != 1+AddressSize+1+len(payload)+1 {
		t.Errorf("frame length = %d, want %d", len(frame), 1+AddressSize+1+len(payload)+1)
	}
	if got := frame[len(frame)-1]; got != Checksum(frame[:len(frame)-1]) {
		t.Errorf("trailing checksum = 0x%02X, want 0x%02X", got, Checksum(frame[:len(frame)-1]))
	}
}

func TestEncode_MaxPayload(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	payload := bytes.Repeat([]byte{'9'}, MaxPayload)
	frame, err := Encode(addr, CmdMoneySale, payload)
	if err != nil {
		t.Fatalf("Encode error at max payload: %v", err)
	}
	if len(frame) != MaxFrame {
		t.Errorf("frame length = %d, want MaxFrame (%d)", len(frame), MaxFrame)
	}
}

func TestEncode_PayloadTooLong(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	payload := bytes.Repeat([]byte{'9'}, MaxPayload+1)
	_, err := Encode(addr, CmdMoneySale, payload)
	if err != ErrPayloadTooLong {
		t.Errorf("Encode error = %v, want ErrPayloadTooLong", err)
	}
}

// ============================================================
// Decode Tests
// ============================================================

// buildReply assembles a valid reply frame for tests.
func buildReply(addr [AddressSize]byte, command byte, payload []byte) []byte {
	frame, err := Encode(addr, command, payload)
	if err != nil {
		panic(err)
	}
	return frame
}

func TestDecode_RoundTrip(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x03}
	payload := []byte("10")
	buf := buildReply(addr, CmdStatus, payload)

	f, err := Decode(buf, addr, CmdStatus)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if f.Address != addr {
		t.Errorf("Address = %v, want %v", f.Address, addr)
	}
	if f.Command != CmdStatus {
		t.Errorf("Command = %q, want 'S'", f.Command)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("Payload = %q, want %q", f.Payload, payload)
	}
}

func TestDecode_ShortFrame(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	_, err := Decode([]byte{StartMarker, 0x00, 0x01}, addr, CmdStatus)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != ShortFrame {
		t.Errorf("Decode error = %v, want ShortFrame", err)
	}
}

func TestDecode_BadStartMarker(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	buf := buildReply(addr, CmdStatus, []byte("10"))
	buf[0] = EOTMarker

	_, err := Decode(buf, addr, CmdStatus)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != MalformedHeader {
		t.Errorf("Decode error = %v, want MalformedHeader", err)
	}
}

func TestDecode_WrongAddress(t *testing.T) {
	buf := buildReply([AddressSize]byte{0x00, 0x02}, CmdStatus, []byte("10"))

	_, err := Decode(buf, [AddressSize]byte{0x00, 0x01}, CmdStatus)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != MalformedHeader {
		t.Errorf("Decode error = %v, want MalformedHeader", err)
	}
}

func TestDecode_WrongCommand(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	buf := buildReply(addr, CmdLitersMonitor, []byte("1;000100"))

	_, err := Decode(buf, addr, CmdStatus)
	de, ok := err.(*DecodeError)
	if !ok || de.Kind != MalformedHeader {
		t.Errorf("Decode error = %v, want MalformedHeader", err)
	}
}

// TestDecode_ChecksumBitFlips corrupts every byte the checksum covers, one at
// a time, and verifies each corruption is caught.
func TestDecode_ChecksumBitFlips(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	for pos := 4; pos < StatusReplyLen; pos++ {
		for bit := 0; bit < 8; bit++ {
			buf := buildReply(addr, CmdStatus, []byte("10"))
			buf[pos] ^= 1 << bit

			_, err := Decode(buf, addr, CmdStatus)
			if err == nil {
				t.Errorf("flip pos=%d bit=%d: Decode accepted a corrupted frame", pos, bit)
			}
		}
	}
}

// ============================================================
// Field Parsing Tests
// ============================================================

func TestParseDecimalField(t *testing.T) {
	tests := []struct {
		name   string
		buf    string
		offset int
		width  int
		want   uint32
		ok     bool
	}{
		{"simple", "000150", 0, 6, 150, true},
		{"mid buffer", "xx001234yy", 2, 6, 1234, true},
		{"all nines", "999999999", 0, 9, 999999999, true},
		{"leading zeros", "000000", 0, 6, 0, true},
		{"non digit", "00a150", 0, 6, 0, false},
		{"semicolon inside", "00;150", 0, 6, 0, false},
		{"past end", "0015", 0, 6, 0, false},
		{"negative offset", "000150", -1, 6, 0, false},
		{"zero width", "000150", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := ParseDecimalField([]byte(tt.buf), tt.offset, tt.width)
			if ok != tt.ok || v != tt.want {
				t.Errorf("ParseDecimalField(%q, %d, %d) = %d, %v; want %d, %v",
					tt.buf, tt.offset, tt.width, v, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	buf := buildReply([AddressSize]byte{0x00, 0x01}, CmdStatus, []byte("41"))
	if got := StatusCode(buf); got != "41" {
		t.Errorf("StatusCode = %q, want \"41\"", got)
	}

	if got := StatusCode([]byte{StartMarker, 0x00, 0x01, 'S'}); got != "" {
		t.Errorf("StatusCode of short buffer = %q, want empty", got)
	}
}

// ============================================================
// Reply Length Tests
// ============================================================

func TestReplyLength(t *testing.T) {
	tests := []struct {
		command byte
		length  int
		ok      bool
	}{
		{CmdStatus, StatusReplyLen, true},
		{CmdLitersMonitor, MonitorReplyLen, true},
		{CmdRevenueMonitor, MonitorReplyLen, true},
		{CmdTransactionUpdate, TransactionEndReplyLen, true},
		{CmdTotalCounter, TotalCounterReplyLen, true},
		{CmdVolumeSale, 0, false},
		{CmdNozzleOff, 0, false},
		{'x', 0, false},
	}

	for _, tt := range tests {
		n, ok := ReplyLength(tt.command)
		if n != tt.length || ok != tt.ok {
			t.Errorf("ReplyLength(%q) = %d, %v; want %d, %v", tt.command, n, ok, tt.length, tt.ok)
		}
	}
}

// ============================================================
// Fuel Mode Tests
// ============================================================

func TestFuelMode_Next(t *testing.T) {
	if FuelByVolume.Next() != FuelByPrice {
		t.Error("Volume should cycle to Price")
	}
	if FuelByPrice.Next() != FuelByFullTank {
		t.Error("Price should cycle to Full Tank")
	}
	if FuelByFullTank.Next() != FuelByVolume {
		t.Error("Full Tank should cycle back to Volume")
	}
}

func TestFuelMode_String(t *testing.T) {
	if FuelByFullTank.String() != "Full Tank" {
		t.Errorf("FuelByFullTank.String() = %q", FuelByFullTank.String())
	}
	if FuelMode(9).String() != "Unknown" {
		t.Errorf("FuelMode(9).String() = %q", FuelMode(9).String())
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestCommandName(t *testing.T) {
	if got := CommandName(CmdTransactionUpdate); got != "TRANSACTION_UPDATE" {
		t.Errorf("CommandName('T') = %q", got)
	}
	if got := CommandName(0x7A); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("CommandName(0x7A) = %q, want UNKNOWN prefix", got)
	}
}

func TestStatusName(t *testing.T) {
	if got := StatusName(StatusDispensing); got != "DISPENSING" {
		t.Errorf("StatusName(\"41\") = %q", got)
	}
	if got := StatusName("99"); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("StatusName(\"99\") = %q, want UNKNOWN prefix", got)
	}
}

func TestFormatFrame_Status(t *testing.T) {
	addr := [AddressSize]byte{0x00, 0x01}
	buf := buildReply(addr, CmdStatus, []byte("71"))
	f, err := Decode(buf, addr, CmdStatus)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	out := FormatFrame(&f)
	if !strings.Contains(out, "STATUS") {
		t.Error("formatted frame should contain command name")
	}
	if !strings.Contains(out, "PAUSED") {
		t.Error("status frames should render the status name")
	}
}
