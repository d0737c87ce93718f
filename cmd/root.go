// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"fmt"

	"github.com/kataras/golog"
	"github.com/spf13/cobra"

	"github.com/petrolink/forecourt/pkg/gaskit"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Pump addressing and persistence
	postAddress uint8
	stateFile   string

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "forecourt",
	Short: "GasKitLink forecourt post controller",
	Long: `Forecourt - an operator console and controller for GasKitLink v1.2 fuel pumps.

Drives one pump over a half-duplex serial link: mode selection, price setting,
delivery start/pause/resume/stop and running/final totals, with checkpointing
to a state file so an interrupted delivery is picked up after a restart.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the FORECOURT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.2.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if postAddress < 1 || postAddress > gaskit.PostAddressMax {
			return fmt.Errorf("post address must be 1..%d, got %d", gaskit.PostAddressMax, postAddress)
		}
		if verbose {
			golog.SetLevel("debug")
		} else {
			golog.SetLevel("error")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint8VarP(&postAddress, "address", "a", 1, "Post address (1-32)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "forecourt.state", "Non-volatile state file for crash recovery")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
