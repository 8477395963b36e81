// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Query the installed firmware version",
	Long: `Ask the device for the version of its board or radio firmware.

Only text console links answer version requests.`,
	RunE: runVersion,
}

var (
	versionType    string
	versionTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVarP(&versionType, "type", "t", "board", "Firmware image: board or radio")
	versionCmd.Flags().DurationVar(&versionTimeout, "timeout", 5*time.Second, "How long to wait for the answer")
}

func runVersion(cmd *cobra.Command, args []string) error {
	t, err := fwupgrade.ParseFirmwareType(versionType)
	if err != nil {
		return err
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

	result := make(chan *fwupgrade.Version, 1)
	uc, err := fwupgrade.New(dev.Transport, fwupgrade.CallbackFuncs{
		VersionRead: func(_ fwupgrade.FirmwareType, v *fwupgrade.Version) { result <- v },
	}, coreOptions(s)...)
	if err != nil {
		return connectionError(err)
	}

	if !uc.RequestVersion(t) {
		return fmt.Errorf("%s does not answer version requests", dev.Info)
	}

	select {
	case v := <-result:
		if v == nil {
			return fmt.Errorf("no %s version reported", t)
		}
		fmt.Printf("%s: %s\n", t, v)
		return nil
	case <-time.After(versionTimeout):
		return fmt.Errorf("no %s version within %s", t, versionTimeout)
	case <-ctx.Done():
		return errors.New("interrupted")
	}
}
