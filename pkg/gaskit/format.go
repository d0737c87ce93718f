// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

package gaskit

import (
	"fmt"
	"strings"
)

// CommandName returns a human-readable name for a command byte.
func CommandName(command byte) string {
	switch command {
	case CmdStatus:
		return "STATUS"
	case CmdVolumeSale:
		return "VOLUME_SALE"
	case CmdMoneySale:
		return "MONEY_SALE"
	case CmdTransactionUpdate:
		return "TRANSACTION_UPDATE"
	case CmdNozzleOff:
		return "NOZZLE_OFF"
	case CmdLitersMonitor:
		return "LITERS_MONITOR"
	case CmdRevenueMonitor:
		return "REVENUE_MONITOR"
	case CmdTotalCounter:
		return "TOTAL_COUNTER"
	case CmdPause:
		return "PAUSE"
	case CmdResume:
		return "RESUME"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", command)
}

// StatusName returns a human-readable name for a two-digit pump status code.
func StatusName(code string) string {
	switch code {
	case StatusIdle:
		return "IDLE"
	case StatusNozzleUp:
		return "NOZZLE_UP"
	case StatusAuthorized:
		return "AUTHORIZED"
	case StatusDispensing:
		return "DISPENSING"
	case StatusSlowdown:
		return "SLOWDOWN"
	case StatusPaused:
		return "PAUSED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusNozzleBack:
		return "NOZZLE_BACK"
	}
	return fmt.Sprintf("UNKNOWN(%q)", code)
}

// FormatFrame renders a decoded frame for log output, one frame per line.
func FormatFrame(f *Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s addr=%02X%02X", CommandName(f.Command), f.Address[0], f.Address[1])
	if len(f.Payload) > 0 {
		fmt.Fprintf(&b, " payload=%q", f.Payload)
	}
	if f.Command == CmdStatus && len(f.Payload) >= 2 {
		code := string(f.Payload[0:2])
		fmt.Fprintf(&b, " status=%s (%s)", code, StatusName(code))
	}
	return b.String()
}
