// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal upload failure.
type ErrorKind int

const (
	// KindInvalidFwFile means the image could not be opened or read before
	// anything was sent.
	KindInvalidFwFile ErrorKind = iota + 1
	// KindTransmission covers CRC echo mismatch, send failures, watchdog
	// expiry and a missing or negative reboot notification.
	KindTransmission
	// KindCorruptedFile means the device rejected the image after transfer.
	KindCorruptedFile
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidFwFile:
		return "INVALID_FW_FILE"
	case KindTransmission:
		return "TRANSMISSION"
	case KindCorruptedFile:
		return "CORRUPTED_FILE"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against an *UploadError.
var (
	ErrInvalidFwFile = errors.New("invalid firmware file")
	ErrTransmission  = errors.New("transmission error")
	ErrCorruptedFile = errors.New("corrupted file")
)

// ErrUnsupportedTransport is returned by New when the device exposes neither
// a console nor the full set of OTA channels.
var ErrUnsupportedTransport = errors.New("device exposes no supported upload transport")

// UploadError is the terminal error delivered to Callback.OnUploadError.
type UploadError struct {
	Kind  ErrorKind
	Image string
	Err   error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upload %s: %s", e.Image, e.Kind)
	}
	return fmt.Sprintf("upload %s: %s: %v", e.Image, e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *UploadError) Is(target error) bool {
	switch target {
	case ErrInvalidFwFile:
		return e.Kind == KindInvalidFwFile
	case ErrTransmission:
		return e.Kind == KindTransmission
	case ErrCorruptedFile:
		return e.Kind == KindCorruptedFile
	}
	return false
}

// KindOf returns the kind of the first *UploadError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return 0
}

func newUploadError(kind ErrorKind, image string, cause error) *UploadError {
	return &UploadError{Kind: kind, Image: image, Err: cause}
}
