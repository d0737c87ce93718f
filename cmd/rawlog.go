// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/petrolink/forecourt/pkg/gaskit"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display pump link frames as they arrive.

Attach this to a line tap (or the pump side of a splitter) to watch the
traffic between a post and its dispenser: each frame is printed with its
address, command name and decoded payload. Bytes that do not assemble into a
valid frame are counted and reported.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Forecourt - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	scanner := gaskit.NewScanner()
	buf := make([]byte, 128)
	reportedSkips := 0

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if err == ErrConnectionClosed {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			frame, err := scanner.Feed(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if frame != nil {
				if skipped := scanner.Skipped(); skipped > reportedSkips {
					fmt.Printf("[NOISE] %d byte(s) skipped between frames\n", skipped-reportedSkips)
					reportedSkips = skipped
				}
				fmt.Println(gaskit.FormatFrame(frame))
			}
		}
	}
}
