// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"fmt"
	"strings"
)

// FirmwareType identifies which onboard image a request targets.
type FirmwareType uint8

const (
	// BoardFirmware is the application image.
	BoardFirmware FirmwareType = 0x00
	// RadioFirmware is the connectivity (BLE stack) image.
	RadioFirmware FirmwareType = 0x01
)

func (t FirmwareType) String() string {
	switch t {
	case BoardFirmware:
		return "board"
	case RadioFirmware:
		return "radio"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(t))
	}
}

// ParseFirmwareType accepts the names printed by String plus the aliases
// "fw", "app", "ble" and "wireless".
func ParseFirmwareType(s string) (FirmwareType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "board", "fw", "app":
		return BoardFirmware, nil
	case "radio", "ble", "wireless":
		return RadioFirmware, nil
	default:
		return 0, fmt.Errorf("unknown firmware type %q (want board or radio)", s)
	}
}
