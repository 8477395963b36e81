// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// ErrMalformedVersion is returned when a version line does not match the
// grammar of its firmware type.
var ErrMalformedVersion = errors.New("malformed firmware version")

// Version is a firmware version reported by the device.
type Version struct {
	Type FirmwareType
	// Name is the image name, e.g. BLUEMS2.
	Name string
	// Mcu is the target MCU. Radio images do not report one.
	Mcu    string
	Semver semver.Version
	// Raw is the line as received, without the terminator.
	Raw string
}

func (v *Version) String() string {
	if v.Mcu != "" {
		return fmt.Sprintf("%s %s (%s)", v.Name, v.Semver.String(), v.Mcu)
	}
	return fmt.Sprintf("%s %s", v.Name, v.Semver.String())
}

// Board images answer <name>_<mcu>_<major>.<minor>.<patch>.
var boardVersionPattern = regexp.MustCompile(`^(\S+)_(\S+)_(\d+)\.(\d+)\.(\d+)$`)

// Radio images answer <name>_<major>.<minor><patch letter>, patch 'a' is 0.
var radioVersionPattern = regexp.MustCompile(`^(\S+)_(\d+)\.(\d+)([a-z])$`)

// ParseBoardVersion parses a board firmware version line.
func ParseBoardVersion(line string) (*Version, error) {
	raw := strings.TrimSpace(line)
	m := boardVersionPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: board version %q", ErrMalformedVersion, raw)
	}

	major, minor, patch, err := parseTriple(m[3], m[4], m[5])
	if err != nil {
		return nil, fmt.Errorf("%w: board version %q: %v", ErrMalformedVersion, raw, err)
	}

	return &Version{
		Type:   BoardFirmware,
		Name:   m[1],
		Mcu:    m[2],
		Semver: semver.Version{Major: major, Minor: minor, Patch: patch},
		Raw:    raw,
	}, nil
}

// ParseRadioVersion parses a radio firmware version line.
func ParseRadioVersion(line string) (*Version, error) {
	raw := strings.TrimSpace(line)
	m := radioVersionPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: radio version %q", ErrMalformedVersion, raw)
	}

	major, minor, _, err := parseTriple(m[2], m[3], "0")
	if err != nil {
		return nil, fmt.Errorf("%w: radio version %q: %v", ErrMalformedVersion, raw, err)
	}

	return &Version{
		Type:   RadioFirmware,
		Name:   m[1],
		Semver: semver.Version{Major: major, Minor: minor, Patch: int64(m[4][0] - 'a')},
		Raw:    raw,
	}, nil
}

func parseTriple(a, b, c string) (int64, int64, int64, error) {
	var out [3]int64
	for i, s := range []string{a, b, c} {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, 0, err
		}
		out[i] = n
	}
	return out[0], out[1], out[2], nil
}

// firmwareSpec is the per-type wire vocabulary of the handshake protocol.
type firmwareSpec struct {
	versionRequest []byte
	uploadTag      []byte
	parse          func(string) (*Version, error)
}

var firmwareSpecs = map[FirmwareType]firmwareSpec{
	BoardFirmware: {
		versionRequest: []byte("versionFw\n"),
		uploadTag:      []byte("upgradeFw"),
		parse:          ParseBoardVersion,
	},
	RadioFirmware: {
		versionRequest: []byte("versionBle\n"),
		uploadTag:      []byte("upgradeBle"),
		parse:          ParseRadioVersion,
	},
}

func lookupSpec(t FirmwareType) (firmwareSpec, bool) {
	s, ok := firmwareSpecs[t]
	return s, ok
}
