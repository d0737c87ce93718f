// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package controller

// statusAction maps a two-digit pump status code to the state machine's
// reaction. resetErrors clears the consecutive-failure counter; it is set
// only for well-understood idle and terminal codes so that repeated
// in-progress codes cannot mask a genuine fault. warning, when non-empty, is
// surfaced to the operator on match.
type statusAction struct {
	code        string
	next        State
	resetErrors bool
	warning     string
}

// statusTable covers the documented pump status codes. Lookup is linear and
// first-match; codes not present count as protocol errors.
var statusTable = []statusAction{
	{"10", StateIdle, true, ""},
	{"21", StateIdle, true, "Nozzle up! Hang up"},
	{"31", StateTransaction, false, ""},
	{"41", StateTransaction, false, ""},
	{"61", StateTransaction, false, ""},
	{"71", StateTransactionPaused, false, ""},
	{"81", StateTransactionEnd, true, ""},
	{"90", StateIdle, true, ""},
}

// lookupStatus resolves a status code against the dispatch table.
func lookupStatus(code string) (statusAction, bool) {
	for _, a := range statusTable {
		if a.code == code {
			return a, true
		}
	}
	return statusAction{}, false
}
