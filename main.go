// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// fwlift - Firmware upload console
//
// A CLI tool for querying and uploading firmware images over serial,
// WebSocket and MQTT links.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/fwlift/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
