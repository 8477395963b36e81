// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fwlift/pkg/fwfile"
	"github.com/Thermoquad/fwlift/pkg/stm32crc"
)

var crcCmd = &cobra.Command{
	Use:   "crc",
	Short: "Print the length and STM32 CRC of a firmware image",
	Long: `Compute the checksum the handshake upload announces for an image.

The CRC uses the STM32 hardware unit's parameters and covers whole 32-bit
words only, so 1 to 3 trailing bytes are left out. No device is needed.

With --wrap the payload is also written to OUT as an .img container (a
little-endian u32 length header followed by the payload), the format the
radio image is distributed in.`,
	RunE: runCrc,
}

var (
	crcFile string
	crcWrap string
)

func init() {
	rootCmd.AddCommand(crcCmd)
	crcCmd.Flags().StringVarP(&crcFile, "file", "f", "", "Firmware image (.bin, .img or file:// URI)")
	crcCmd.Flags().StringVar(&crcWrap, "wrap", "", "Also write the payload as an .img container to this path")
	_ = crcCmd.MarkFlagRequired("file")
}

func runCrc(cmd *cobra.Command, args []string) error {
	img := fwfile.New(crcFile)
	r, length, err := img.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	d := stm32crc.New()
	payload, err := io.ReadAll(io.TeeReader(r, d))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", img.Name(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:   %s (%s)\n", img.Path(), img.Format())
	fmt.Fprintf(out, "Length: %d bytes\n", length)
	fmt.Fprintf(out, "Words:  %d (%d trailing bytes excluded)\n", d.Words(), d.Pending())
	fmt.Fprintf(out, "CRC32:  0x%08X\n", d.Sum32())

	if crcWrap == "" {
		return nil
	}
	if err := writeContainerFile(crcWrap, payload); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote:  %s (%d bytes)\n", crcWrap, fwfile.HeaderSize+len(payload))
	return nil
}

func writeContainerFile(path string, payload []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fwfile.WriteContainer(f, payload); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
