// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package pump

import (
	"bytes"
	"testing"
	"time"

	"github.com/petrolink/forecourt/pkg/gaskit"
)

// fakeConn models a pump on the other end of the link. A scripted reply is
// armed on every write; Read serves it one byte at a time, honoring an
// initial delay and an optional mid-reply gap so timeout paths can be
// exercised.
type fakeConn struct {
	writes [][]byte

	reply      []byte
	replyDelay time.Duration
	gapAfter   int // byte count after which the gap applies; 0 = no gap
	gap        time.Duration

	queue       []byte
	served      int
	availableAt time.Time
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.queue = append([]byte(nil), c.reply...)
	c.served = 0
	c.availableAt = time.Now().Add(c.replyDelay)
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.queue) == 0 || time.Now().Before(c.availableAt) {
		return 0, nil
	}
	p[0] = c.queue[0]
	c.queue = c.queue[1:]
	c.served++
	if c.gapAfter > 0 && c.served == c.gapAfter {
		c.availableAt = time.Now().Add(c.gap)
	}
	return 1, nil
}

type fakeDisplay struct {
	messages []string
}

func (d *fakeDisplay) DisplayMessage(text string) bool {
	d.messages = append(d.messages, text)
	return true
}

func newTestTransport() (*Transport, *fakeConn, *fakeDisplay) {
	conn := &fakeConn{}
	display := &fakeDisplay{}
	t := New(conn, 1, display)
	t.SetTimeouts(50*time.Millisecond, 5*time.Millisecond)
	return t, conn, display
}

func statusReply(addr [gaskit.AddressSize]byte, code string) []byte {
	frame, err := gaskit.Encode(addr, gaskit.CmdStatus, []byte(code))
	if err != nil {
		panic(err)
	}
	return frame
}

// ============================================================
// Busy Guard Tests
// ============================================================

func TestSend_BusyWhileSending(t *testing.T) {
	tr, conn, _ := newTestTransport()
	tr.sending = true

	if err := tr.SendStatus(); err != ErrBusy {
		t.Errorf("SendStatus while sending = %v, want ErrBusy", err)
	}
	if len(conn.writes) != 0 {
		t.Error("nothing should reach the wire while busy")
	}
}

func TestSend_BusyWhileReceiving(t *testing.T) {
	tr, conn, _ := newTestTransport()
	tr.receiving = true

	if err := tr.SendNozzleOff(); err != ErrBusy {
		t.Errorf("SendNozzleOff while receiving = %v, want ErrBusy", err)
	}
	if err := tr.SendStartTransaction(gaskit.FuelByVolume, 100, 0, 150); err != ErrBusy {
		t.Errorf("SendStartTransaction while receiving = %v, want ErrBusy", err)
	}
	if len(conn.writes) != 0 {
		t.Error("nothing should reach the wire while busy")
	}
}

func TestWaitForResponse_RefusedWhileReceiving(t *testing.T) {
	tr, _, _ := newTestTransport()
	tr.receiving = true

	buf := make([]byte, gaskit.MaxFrame)
	if n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus); n != 0 {
		t.Errorf("WaitForResponse while receiving = %d, want 0", n)
	}
}

// ============================================================
// Send Framing Tests
// ============================================================

func TestSendStatus_WireFormat(t *testing.T) {
	tr, conn, _ := newTestTransport()

	if err := tr.SendStatus(); err != nil {
		t.Fatalf("SendStatus error: %v", err)
	}
	if len(conn.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(conn.writes))
	}

	want := []byte{gaskit.StartMarker, 0x00, 0x01, 'S', 0x52}
	if !bytes.Equal(conn.writes[0], want) {
		t.Errorf("wire = % 02X, want % 02X", conn.writes[0], want)
	}
}

func TestSendStartTransaction_VolumePayload(t *testing.T) {
	tr, conn, _ := newTestTransport()

	if err := tr.SendStartTransaction(gaskit.FuelByVolume, 500, 0, 150); err != nil {
		t.Fatalf("SendStartTransaction error: %v", err)
	}

	frame := conn.writes[0]
	if frame[3] != gaskit.CmdVolumeSale {
		t.Errorf("command = %q, want 'V'", frame[3])
	}
	payload := string(frame[4 : len(frame)-1])
	if payload != "1;000500;0150" {
		t.Errorf("payload = %q, want \"1;000500;0150\"", payload)
	}
}

func TestSendStartTransaction_MoneyPayload(t *testing.T) {
	tr, conn, _ := newTestTransport()

	if err := tr.SendStartTransaction(gaskit.FuelByPrice, 0, 25000, 4999); err != nil {
		t.Fatalf("SendStartTransaction error: %v", err)
	}

	frame := conn.writes[0]
	if frame[3] != gaskit.CmdMoneySale {
		t.Errorf("command = %q, want 'M'", frame[3])
	}
	payload := string(frame[4 : len(frame)-1])
	if payload != "1;025000;4999" {
		t.Errorf("payload = %q, want \"1;025000;4999\"", payload)
	}
}

func TestSendStartTransaction_FullTankSentinel(t *testing.T) {
	tr, conn, _ := newTestTransport()

	if err := tr.SendStartTransaction(gaskit.FuelByFullTank, 0, 0, 150); err != nil {
		t.Fatalf("SendStartTransaction error: %v", err)
	}

	frame := conn.writes[0]
	if frame[3] != gaskit.CmdMoneySale {
		t.Errorf("command = %q, want 'M'", frame[3])
	}
	payload := string(frame[4 : len(frame)-1])
	if payload != "1;999999;0150" {
		t.Errorf("payload = %q, want \"1;999999;0150\"", payload)
	}
}

func TestSendStartTransaction_RejectsOversizedParameters(t *testing.T) {
	tests := []struct {
		name   string
		mode   gaskit.FuelMode
		volume uint32
		amount uint32
		price  uint32
	}{
		{"price over 4 digits", gaskit.FuelByVolume, 100, 0, 10000},
		{"volume over 6 digits", gaskit.FuelByVolume, 1000000, 0, 150},
		{"amount over 6 digits", gaskit.FuelByPrice, 0, 1000000, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, conn, display := newTestTransport()

			err := tr.SendStartTransaction(tt.mode, tt.volume, tt.amount, tt.price)
			if err != ErrInvalidParameters {
				t.Errorf("error = %v, want ErrInvalidParameters", err)
			}
			if len(conn.writes) != 0 {
				t.Error("invalid parameters must never reach the wire")
			}
			if len(display.messages) != 1 || display.messages[0] != "Invalid transaction data" {
				t.Errorf("display = %v, want one \"Invalid transaction data\"", display.messages)
			}
		})
	}
}

func TestSendTotalCounter_Payload(t *testing.T) {
	tr, conn, _ := newTestTransport()

	if err := tr.SendTotalCounter(); err != nil {
		t.Fatalf("SendTotalCounter error: %v", err)
	}

	frame := conn.writes[0]
	if frame[3] != gaskit.CmdTotalCounter {
		t.Errorf("command = %q, want 'C'", frame[3])
	}
	if payload := string(frame[4 : len(frame)-1]); payload != "1" {
		t.Errorf("payload = %q, want \"1\"", payload)
	}
}

// ============================================================
// WaitForResponse Tests
// ============================================================

func TestWaitForResponse_ValidReply(t *testing.T) {
	tr, conn, _ := newTestTransport()
	conn.reply = statusReply(tr.Address(), "10")

	if err := tr.SendStatus(); err != nil {
		t.Fatalf("SendStatus error: %v", err)
	}

	buf := make([]byte, gaskit.MaxFrame)
	n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus)
	if n != gaskit.StatusReplyLen {
		t.Fatalf("WaitForResponse = %d, want %d", n, gaskit.StatusReplyLen)
	}
	if got := gaskit.StatusCode(buf[:n]); got != "10" {
		t.Errorf("status code = %q, want \"10\"", got)
	}
}

func TestWaitForResponse_TimeoutIsBounded(t *testing.T) {
	tr, _, _ := newTestTransport()

	buf := make([]byte, gaskit.MaxFrame)
	start := time.Now()
	n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus)
	elapsed := time.Since(start)

	if n != 0 {
		t.Errorf("WaitForResponse = %d, want 0 on silence", n)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the response timeout", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("took %v, response timeout not honored", elapsed)
	}
}

func TestWaitForResponse_InterbyteAbort(t *testing.T) {
	tr, conn, _ := newTestTransport()
	conn.reply = statusReply(tr.Address(), "10")
	conn.gapAfter = 3
	conn.gap = time.Second

	if err := tr.SendStatus(); err != nil {
		t.Fatalf("SendStatus error: %v", err)
	}

	buf := make([]byte, gaskit.MaxFrame)
	start := time.Now()
	n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus)
	elapsed := time.Since(start)

	if n != 3 {
		t.Errorf("WaitForResponse = %d, want 3 after mid-frame silence", n)
	}
	if elapsed >= 50*time.Millisecond {
		t.Errorf("took %v, inter-byte abort should fire well before the response timeout", elapsed)
	}
}

func TestWaitForResponse_CorruptedReply(t *testing.T) {
	tr, conn, display := newTestTransport()
	reply := statusReply(tr.Address(), "10")
	reply[len(reply)-1] ^= 0x01
	conn.reply = reply

	if err := tr.SendStatus(); err != nil {
		t.Fatalf("SendStatus error: %v", err)
	}

	buf := make([]byte, gaskit.MaxFrame)
	if n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus); n != -1 {
		t.Errorf("WaitForResponse = %d, want -1 for a corrupted reply", n)
	}
	if len(display.messages) != 1 || display.messages[0] != "Invalid response from pump" {
		t.Errorf("display = %v, want one \"Invalid response from pump\"", display.messages)
	}
}

func TestWaitForResponse_WrongAddressReply(t *testing.T) {
	tr, conn, _ := newTestTransport()
	conn.reply = statusReply([gaskit.AddressSize]byte{0x00, 0x07}, "10")

	if err := tr.SendStatus(); err != nil {
		t.Fatalf("SendStatus error: %v", err)
	}

	buf := make([]byte, gaskit.MaxFrame)
	if n := tr.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus); n != -1 {
		t.Errorf("WaitForResponse = %d, want -1 for another post's reply", n)
	}
}
