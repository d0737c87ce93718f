// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrolink/forecourt/pkg/gaskit"
	"github.com/petrolink/forecourt/pkg/pump"
)

var (
	probeAttempts int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connectivity by polling the pump for its status",
	Long: `Send a status poll to the addressed pump and wait for a valid reply.

The pump is polled up to --attempts times. A reply that decodes with a good
checksum counts as success and its status code is printed; a silent or
garbled pump counts as failure.

Exit codes:
  0 - Valid status reply received
  1 - No valid reply after all attempts
  2 - Connection error

Useful for checking the wiring and post address before starting a controller.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeAttempts, "attempts", 3, "Number of status polls before giving up")
}

// probeDisplay satisfies the transport display contract; probe output goes to
// stdout instead of an operator panel.
type probeDisplay struct{}

func (probeDisplay) DisplayMessage(text string) bool {
	fmt.Printf("  [pump] %s\n", text)
	return true
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Forecourt - Pump Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Post address: %d\n", postAddress)
	fmt.Printf("Polling pump status...\n\n")

	transport := pump.New(conn, postAddress, probeDisplay{})
	buf := make([]byte, gaskit.MaxFrame)

	for attempt := 1; attempt <= probeAttempts; attempt++ {
		if err := transport.SendStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}

		n := transport.WaitForResponse(buf, gaskit.StatusReplyLen, gaskit.CmdStatus)
		if n == gaskit.StatusReplyLen {
			code := gaskit.StatusCode(buf[:n])
			fmt.Printf("SUCCESS: pump answered on attempt %d\n", attempt)
			fmt.Printf("  Status: %s (%s)\n", code, gaskit.StatusName(code))
			os.Exit(0)
		}
		switch {
		case n < 0:
			fmt.Printf("attempt %d: reply failed validation\n", attempt)
		case n > 0:
			fmt.Printf("attempt %d: partial reply (%d bytes)\n", attempt, n)
		default:
			fmt.Printf("attempt %d: no reply\n", attempt)
		}
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: no valid status reply after %d attempts\n", probeAttempts)
	os.Exit(1)
	return nil
}
