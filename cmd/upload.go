// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/fwlift/pkg/fwfile"
	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a firmware image",
	Long: `Upload a board or radio firmware image to the device.

On a text console the image is announced with its length and STM32 CRC, the
device echoes the CRC, and the image follows in 16-byte chunks. On an OTA
link the image is pushed chunk by chunk and the upload completes when the
device announces a normal reboot.

Images ending in .img are length-prefixed containers; anything else is sent
as a raw binary. --address is only used by OTA links.`,
	RunE: runUpload,
}

var (
	uploadType    string
	uploadFile    string
	uploadAddress string
	uploadTUI     bool
)

var errInterrupted = errors.New("interrupted")

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadType, "type", "t", "board", "Firmware image: board or radio")
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "Firmware image (.bin, .img or file:// URI)")
	uploadCmd.Flags().StringVarP(&uploadAddress, "address", "a", "0", "Flash address (OTA links only)")
	uploadCmd.Flags().BoolVar(&uploadTUI, "tui", false, "Show a full screen progress view")
	_ = uploadCmd.MarkFlagRequired("file")
}

// parseAddress accepts decimal, 0x hex and 0o octal addresses.
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	t, err := fwupgrade.ParseFirmwareType(uploadType)
	if err != nil {
		return err
	}
	address, err := parseAddress(uploadAddress)
	if err != nil {
		return err
	}

	img := fwfile.New(uploadFile)
	total, err := img.Length()
	if err != nil {
		return fmt.Errorf("invalid firmware image: %w", err)
	}

	s, err := settingsFrom(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dev, err := openDevice(ctx, s)
	if err != nil {
		return connectionError(err)
	}
	defer dev.Close()

	var r uploadReporter
	if uploadTUI {
		r = newTUIReporter(img.Name(), t, total, dev.Info)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %s (%s, %d bytes) over %s\n", img.Name(), t, total, dev.Info)
		r = newBarReporter(cmd.ErrOrStderr(), total)
	}

	uc, err := fwupgrade.New(dev.Transport, r, coreOptions(s)...)
	if err != nil {
		return connectionError(err)
	}

	started := time.Now()
	r.Start()
	if !uc.UploadFirmware(t, img, address) {
		return errors.New("upload console is busy")
	}
	if err := r.Wait(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s in %s\n", img.Name(), formatElapsed(time.Since(started)))
	return nil
}

// uploadReporter renders upload progress and reports the outcome.
type uploadReporter interface {
	fwupgrade.Callback
	Start()
	// Wait blocks until the upload ends or ctx is done.
	Wait(ctx context.Context) error
}

type barReporter struct {
	total int64
	bar   *pb.ProgressBar
	done  chan error
}

func newBarReporter(w io.Writer, total int64) *barReporter {
	bar := pb.New64(total).SetTemplate(pb.Full).SetWriter(w)
	bar.Set(pb.Bytes, true)
	return &barReporter{total: total, bar: bar, done: make(chan error, 1)}
}

func (r *barReporter) Start() { r.bar.Start() }

func (r *barReporter) OnVersionRead(fwupgrade.FirmwareType, *fwupgrade.Version) {}

func (r *barReporter) OnUploadProgress(_ fwupgrade.Image, remaining int64) {
	r.bar.SetCurrent(r.total - remaining)
}

func (r *barReporter) OnUploadComplete(fwupgrade.Image) {
	r.bar.SetCurrent(r.total)
	r.bar.Finish()
	r.done <- nil
}

func (r *barReporter) OnUploadError(_ fwupgrade.Image, err error) {
	r.bar.Finish()
	r.done <- err
}

func (r *barReporter) Wait(ctx context.Context) error {
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		r.bar.Finish()
		return errInterrupted
	}
}
