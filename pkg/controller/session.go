// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package controller

import (
	"time"

	"github.com/petrolink/forecourt/pkg/gaskit"
)

// State is a transaction state machine state. The numeric values are
// persisted in checkpoint records and must stay stable.
type State uint8

const (
	StateCheckStatus State = iota
	StateIdle
	StateWaitForPriceInput
	StateViewPrice
	StateTransitionPriceSet
	StateEditPrice
	StateTransitionEditPrice
	StateError
	StateTransaction
	StateTransactionEnd
	StateTotalCounter
	StateTransactionPaused
	StateConfirmTransaction
)

func (s State) String() string {
	switch s {
	case StateCheckStatus:
		return "CheckStatus"
	case StateIdle:
		return "Idle"
	case StateWaitForPriceInput:
		return "WaitForPriceInput"
	case StateViewPrice:
		return "ViewPrice"
	case StateTransitionPriceSet:
		return "TransitionPriceSet"
	case StateEditPrice:
		return "EditPrice"
	case StateTransitionEditPrice:
		return "TransitionEditPrice"
	case StateError:
		return "Error"
	case StateTransaction:
		return "Transaction"
	case StateTransactionEnd:
		return "TransactionEnd"
	case StateTotalCounter:
		return "TotalCounter"
	case StateTransactionPaused:
		return "TransactionPaused"
	case StateConfirmTransaction:
		return "ConfirmTransaction"
	}
	return "Unknown"
}

// MaxPriceInput bounds the operator numeric entry buffer.
const MaxPriceInput = 5

// Session is the controller's long-lived state. It is created once at
// startup, mutated only by the Controller, and every timer the state machine
// consults lives here as a named field so the whole machine is inspectable.
type Session struct {
	State        State
	FuelMode     gaskit.FuelMode
	ModeSelected bool

	UnitPrice  uint32 // 0..99999
	PriceValid bool   // UnitPrice > 0

	// Requested target; exactly one is non-zero at transaction start.
	TransactionVolume uint32 // deciliters
	TransactionAmount uint32 // minor currency units

	TransactionStarted bool
	MonitorActive      bool
	MonitorState       int // 0=status, 1=liters poll, 2=revenue poll

	CurrentLitersDL   uint32
	CurrentPriceTotal uint32
	FinalLitersDL     uint32
	FinalPriceTotal   uint32

	WaitingForResponse bool
	ErrorCount         int
	C0RetryCount       int

	NozzleUpWarning      bool
	StatusPollingActive  bool
	SkipFirstStatusCheck bool

	StateEntryTime   time.Time
	LastKeyTime      time.Time
	LastC0SendTime   time.Time
	LastResponseTime time.Time // poll cadence guard, shared by polling states

	// Nozzle-up grace window; zero while the nozzle is down.
	NozzleUpStartedAt time.Time

	// Transaction-end retry bookkeeping.
	EndRetryCount   int
	EndDataReceived bool

	PriceInput string // operator numeric entry, at most MaxPriceInput digits
}

// WirePrice returns the unit price as transmitted: the wire field carries at
// most four digits, so five-digit prices are sent divided by ten and every
// displayed amount is scaled back up.
func (s *Session) WirePrice() uint32 {
	if s.UnitPrice > gaskit.MaxWirePrice {
		return s.UnitPrice / 10
	}
	return s.UnitPrice
}

// PriceScaled reports whether displayed amounts must be multiplied by ten to
// undo the wire price division.
func (s *Session) PriceScaled() bool {
	return s.UnitPrice > gaskit.MaxWirePrice
}
