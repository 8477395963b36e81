// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fwlift/pkg/link"
	"github.com/Thermoquad/fwlift/pkg/otalink"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display OTA link frames in human-readable format",
	Long: `Continuously decode and display OTA link frames as they arrive.

Each frame is shown with a timestamp, its channel, message type and decoded
fields. Framing errors and messages on the wrong channel are reported inline.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	s, err := settingsFrom(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stream, connInfo, err := openStream(ctx, s)
	if err != nil {
		return connectionError(err)
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fwlift - OTA link monitor\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	err = monitorFrames(stream, out, time.Now)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// monitorFrames prints every frame read from r until r fails.
func monitorFrames(r io.Reader, out io.Writer, now func() time.Time) error {
	reader := otalink.NewReader(r)
	for {
		m, err := reader.ReadMessage()
		stamp := now().Format("15:04:05.000")
		switch {
		case errors.Is(err, otalink.ErrFrame):
			fmt.Fprintf(out, "[%s] [ERROR] %v\n", stamp, err)
			continue
		case errors.Is(err, io.EOF), errors.Is(err, link.ErrClosed):
			fmt.Fprintf(out, "Connection closed\n")
			return nil
		case err != nil:
			return fmt.Errorf("read error: %w", err)
		}

		if verr := otalink.Validate(m); verr != nil {
			fmt.Fprintf(out, "[%s] [INVALID] %s: %v\n", stamp, m, verr)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", stamp, m)
	}
}
