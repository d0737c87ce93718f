// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

// Package pump drives the half-duplex serial link to a fuel dispenser.
//
// The link is strictly request/reply: the controller writes one GasKitLink
// frame and then blocks for the pump's answer. A pair of busy flags makes
// every send or receive a no-op while another one is in flight; attempts are
// dropped, never queued, so the surrounding control loop can never stall on
// the guard itself.
package pump

import (
	"errors"
	"fmt"
	"time"

	"github.com/kataras/golog"

	"github.com/petrolink/forecourt/pkg/gaskit"
)

// Conn is the byte channel to the pump. Read must return promptly with
// (0, nil) when no byte is available; serial ports get this from a short
// hardware read timeout, other links via an internal buffer.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Display receives operator-facing messages surfaced by the transport.
type Display interface {
	DisplayMessage(text string) bool
}

// Timing defaults for the 9600 baud link.
const (
	ResponseTimeout  = 3000 * time.Millisecond
	InterbyteTimeout = 3 * time.Millisecond
	FlushWindow      = 2 * time.Millisecond
)

// ErrBusy is returned when a send is refused because the link is mid-exchange.
var ErrBusy = errors.New("link busy")

// ErrInvalidParameters is returned when transaction parameters exceed the
// wire field widths; nothing is transmitted in that case.
var ErrInvalidParameters = errors.New("invalid transaction parameters")

// Transport owns the serial channel to one pump.
type Transport struct {
	conn    Conn
	address [gaskit.AddressSize]byte
	display Display

	// Busy guard. Not a lock: a guarded call returns immediately.
	sending   bool
	receiving bool

	responseTimeout  time.Duration
	interbyteTimeout time.Duration
	flushWindow      time.Duration
}

// New creates a transport for the pump at the given post address (1..32).
func New(conn Conn, postAddress uint8, display Display) *Transport {
	return &Transport{
		conn:             conn,
		address:          [gaskit.AddressSize]byte{0x00, postAddress},
		display:          display,
		responseTimeout:  ResponseTimeout,
		interbyteTimeout: InterbyteTimeout,
		flushWindow:      FlushWindow,
	}
}

// SetTimeouts overrides the response and inter-byte windows.
func (t *Transport) SetTimeouts(response, interbyte time.Duration) {
	t.responseTimeout = response
	t.interbyteTimeout = interbyte
}

// Address returns the configured slave address.
func (t *Transport) Address() [gaskit.AddressSize]byte {
	return t.address
}

// flushInput drains stray bytes for a short window to resynchronize after
// line noise. Observing a frame marker restarts the window.
func (t *Transport) flushInput() {
	window := t.flushWindow
	deadline := time.Now().Add(window)
	one := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := t.conn.Read(one)
		if err != nil {
			return
		}
		if n > 0 {
			if one[0] == gaskit.StartMarker || one[0] == gaskit.EOTMarker {
				deadline = time.Now().Add(window)
			}
			continue
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (t *Transport) send(command byte, payload []byte) error {
	if t.sending || t.receiving {
		return ErrBusy
	}
	t.sending = true
	defer func() { t.sending = false }()

	t.flushInput()
	frame, err := gaskit.Encode(t.address, command, payload)
	if err != nil {
		return err
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", gaskit.CommandName(command), err)
	}
	golog.Debugf("pump: sent %s", gaskit.CommandName(command))
	return nil
}

// SendStatus polls the pump state.
func (t *Transport) SendStatus() error {
	return t.send(gaskit.CmdStatus, nil)
}

// SendStartTransaction authorizes a delivery. The payload is textual:
// "V1;vvvvvv;pppp" for volume sales, "M1;aaaaaa;pppp" for money sales; a
// full tank is a money sale with the 999999 sentinel. Oversized parameters
// are refused before anything reaches the wire.
func (t *Transport) SendStartTransaction(mode gaskit.FuelMode, volume, amount uint32, price uint32) error {
	if t.sending || t.receiving {
		return ErrBusy
	}
	if price > gaskit.MaxWirePrice ||
		(mode == gaskit.FuelByVolume && volume > gaskit.MaxWireQuantity) ||
		(mode == gaskit.FuelByPrice && amount > gaskit.MaxWireQuantity) {
		golog.Errorf("pump: invalid transaction parameters (mode=%s volume=%d amount=%d price=%d)",
			mode, volume, amount, price)
		t.display.DisplayMessage("Invalid transaction data")
		return ErrInvalidParameters
	}

	var text string
	switch mode {
	case gaskit.FuelByVolume:
		text = fmt.Sprintf("V1;%06d;%04d", volume, price)
	case gaskit.FuelByPrice:
		text = fmt.Sprintf("M1;%06d;%04d", amount, price)
	case gaskit.FuelByFullTank:
		text = fmt.Sprintf("M1;%06d;%04d", gaskit.FullTankAmount, price)
	default:
		return fmt.Errorf("unknown fuel mode %d", mode)
	}
	return t.send(text[0], []byte(text[1:]))
}

// SendTransactionUpdate requests running or final delivery totals.
func (t *Transport) SendTransactionUpdate() error {
	err := t.send(gaskit.CmdTransactionUpdate, nil)
	if err == nil {
		// The pump needs a breath before it will answer a T request.
		time.Sleep(500 * time.Microsecond)
	}
	return err
}

// SendNozzleOff acknowledges a returned nozzle.
func (t *Transport) SendNozzleOff() error {
	return t.send(gaskit.CmdNozzleOff, nil)
}

// SendLitersMonitor polls delivered volume during a transaction.
func (t *Transport) SendLitersMonitor() error {
	return t.send(gaskit.CmdLitersMonitor, nil)
}

// SendRevenueMonitor polls accrued revenue during a transaction.
func (t *Transport) SendRevenueMonitor() error {
	return t.send(gaskit.CmdRevenueMonitor, nil)
}

// SendTotalCounter requests the lifetime delivered-volume counter.
func (t *Transport) SendTotalCounter() error {
	return t.send(gaskit.CmdTotalCounter, []byte{'1'})
}

// SendPause suspends the running delivery.
func (t *Transport) SendPause() error {
	return t.send(gaskit.CmdPause, nil)
}

// SendResume continues a suspended delivery.
func (t *Transport) SendResume() error {
	return t.send(gaskit.CmdResume, nil)
}

// WaitForResponse blocks until expectedLength bytes arrive or a timeout
// fires, collecting into buf. Return values follow the legacy contract the
// state machine is written against:
//
//	 0  receive refused (already receiving) or nothing arrived in time
//	-1  a full reply arrived but failed header or checksum validation
//	 n  bytes collected; n == expectedLength means a validated reply,
//	    anything shorter means the inter-byte window expired mid-frame
//
// The overall wait is bounded by the response timeout; once the first byte
// arrives, a gap over the inter-byte timeout aborts the read early.
func (t *Transport) WaitForResponse(buf []byte, expectedLength int, expectedCommand byte) int {
	if t.receiving {
		return 0
	}
	t.receiving = true
	defer func() { t.receiving = false }()

	count := 0
	start := time.Now()
	lastByte := start
	one := make([]byte, 1)

	for time.Since(start) < t.responseTimeout {
		n, err := t.conn.Read(one)
		if err != nil {
			golog.Errorf("pump: read failed: %v", err)
			break
		}
		if n > 0 {
			if count < expectedLength {
				buf[count] = one[0]
			}
			count++
			lastByte = time.Now()
			if count == expectedLength {
				if _, err := gaskit.Decode(buf[:expectedLength], t.address, expectedCommand); err != nil {
					golog.Errorf("pump: %s reply rejected: %v", gaskit.CommandName(expectedCommand), err)
					t.display.DisplayMessage("Invalid response from pump")
					return -1
				}
				return count
			}
			continue
		}
		if count > 0 && time.Since(lastByte) >= t.interbyteTimeout {
			golog.Errorf("pump: incomplete %s reply (%d/%d bytes)",
				gaskit.CommandName(expectedCommand), count, expectedLength)
			break
		}
	}
	return count
}
