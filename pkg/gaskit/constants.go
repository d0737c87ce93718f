// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

// Package gaskit provides a Go implementation of the GasKitLink v1.2 serial
// protocol used between forecourt posts and fuel dispensers.
//
// GasKitLink frames are short binary records with an STX marker, a two-byte
// slave address, a single ASCII command byte, up to 16 payload bytes and a
// trailing XOR checksum. This package provides frame encoding/decoding,
// checksum validation, a streaming reply scanner and fixed-width ASCII
// numeric field parsing.
package gaskit

// Protocol framing
const (
	StartMarker = 0x02 // STX, opens every frame
	EOTMarker   = 0x04 // seen as line noise between exchanges, never inside a frame

	AddressSize = 2
	MaxPayload  = 16
	MaxFrame    = 1 + AddressSize + 1 + MaxPayload + 1
)

// Command bytes (ASCII)
const (
	CmdStatus            = 'S'
	CmdVolumeSale        = 'V' // start transaction, volume target
	CmdMoneySale         = 'M' // start transaction, money target (full tank uses the 999999 sentinel)
	CmdTransactionUpdate = 'T'
	CmdNozzleOff         = 'N'
	CmdLitersMonitor     = 'L'
	CmdRevenueMonitor    = 'R'
	CmdTotalCounter      = 'C'
	CmdPause             = 'B'
	CmdResume            = 'G'
)

// Reply length contract per command
const (
	StatusReplyLen         = 7
	MonitorReplyLen        = 15 // L and R replies
	TransactionEndReplyLen = 27 // T reply
	TotalCounterReplyLen   = 16 // C reply
)

// Fixed field positions inside replies
const (
	StatusCodeOffset = 4 // two ASCII digits at bytes 4..5 of a status reply

	MonitorValueOffset = 8 // 6-digit liters / revenue field in L and R replies
	MonitorValueWidth  = 6

	TotalCounterOffset = 6 // 9-digit lifetime counter in a C reply
	TotalCounterWidth  = 9

	// T replies carry a flag byte at index 5; 'u' shifts the numeric
	// fields two bytes to the right.
	EndFlagOffset     = 5
	EndFieldOffset    = 8
	EndFieldOffsetAlt = 10
	EndFieldWidth     = 6
)

// Pump status codes, two ASCII digits at StatusCodeOffset.
const (
	StatusIdle        = "10" // idle, nozzle down
	StatusNozzleUp    = "21" // nozzle lifted outside a transaction
	StatusAuthorized  = "31" // transaction authorized
	StatusDispensing  = "41" // delivery in progress
	StatusSlowdown    = "61" // delivery near target, liters monitoring armed
	StatusPaused      = "71" // delivery suspended
	StatusCompleted   = "81" // delivery finished, totals available
	StatusNozzleBack  = "90" // nozzle returned, awaiting nozzle-off
)

// Wire limits for transaction parameters
const (
	MaxWirePrice    = 9999   // price field carries at most 4 digits
	MaxWireQuantity = 999999 // volume/amount field carries at most 6 digits
	FullTankAmount  = 999999 // money sale sentinel meaning "no limit"
)

// PostAddressMax bounds the configurable post address ({0x00, n}, n in 1..32).
const PostAddressMax = 32
