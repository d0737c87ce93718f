// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink
//
// Forecourt - GasKitLink Post Controller
//
// A CLI tool for running one forecourt post: it drives the operator keypad
// and display, mediates transactions with the dispenser over the GasKitLink
// serial protocol, and survives power loss mid-delivery.

package main

import (
	"os"

	"github.com/petrolink/forecourt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
