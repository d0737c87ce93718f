// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/petrolink/forecourt/pkg/controller"
	"github.com/petrolink/forecourt/pkg/nvram"
	"github.com/petrolink/forecourt/pkg/pump"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller with the terminal as keypad and display",
	Long: `Run the forecourt controller headless.

The terminal acts as the operator panel: digits and the control keys
E (cancel/pause), K (confirm), G (price view/edit), C (cycle fuel mode) and
A (total counter) are forwarded to the state machine; display output is
printed as plain text lines. Ctrl+C exits.

Supports both serial and WebSocket connections.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// tickInterval is the control loop cadence between polls.
const tickInterval = 10 * time.Millisecond

// keypadAlphabet is every key the physical panel can produce. Keys outside
// E, K, G, C, A and the digits are accepted and ignored by the core.
const keypadAlphabet = "0123456789ABCDEFGHK*"

// consoleDisplay renders operator messages as plain text lines. Line breaks
// come from the controller; wrapping is left to the terminal.
type consoleDisplay struct{}

func (consoleDisplay) DisplayMessage(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		fmt.Printf("%s\r\n", line)
	}
	fmt.Printf("\r\n")
	return true
}

func runRun(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Forecourt - Pump Controller\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Post address: %d, state file: %s\n", postAddress, stateFile)
	fmt.Printf("Keys: 0-9, E=cancel/pause, K=confirm, G=price, C=mode, A=total. Ctrl+C to exit.\n\n")

	display := consoleDisplay{}
	transport := pump.New(conn, postAddress, display)
	store := nvram.Open(stateFile)
	ctrl := controller.New(controller.DefaultConfig(), transport, display, store)

	// Raw mode so single keypresses arrive without Enter.
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %v", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	keys := make(chan byte, 16)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 1 {
				keys <- buf[0]
			}
		}
	}()

	ctrl.Start()
	for {
		select {
		case k := <-keys:
			if k == 0x03 { // Ctrl+C
				return nil
			}
			if key, ok := mapTerminalKey(k); ok {
				ctrl.HandleKey(key)
			}
		default:
			ctrl.Tick()
			time.Sleep(tickInterval)
		}
	}
}

// mapTerminalKey translates a terminal byte to a keypad key. Letters are
// case-folded; Enter confirms and Escape cancels, matching the panel's K/E.
func mapTerminalKey(b byte) (byte, bool) {
	switch b {
	case '\r', '\n':
		return 'K', true
	case 0x1B:
		return 'E', true
	}
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	if strings.IndexByte(keypadAlphabet, b) >= 0 {
		return b, true
	}
	return 0, false
}
