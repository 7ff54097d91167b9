/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Command bitchat-sessiond is a small cobra CLI that exercises the session
// subsystem end-to-end, the way cmd/wg demos the teacher's device package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bitchat-sessiond",
	Short: "Drive the BitChat secure session subsystem from the command line",
	Long: `
bitchat-sessiond is a demonstration binary for the BitChat secure session
subsystem: the Noise-XX handshake engine, the per-peer session state
machine, the session manager, and the relay framing adapter. It does not
talk to a real Bluetooth or relay transport; it wires two in-process
managers together to show the wire format and lifecycle end to end.`,
}

func init() {
	rootCmd.AddCommand(handshakeDemoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
