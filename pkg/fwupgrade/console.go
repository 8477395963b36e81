// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"fmt"
)

// UploadConsole is the uniform contract of both upload protocols.
//
// A console accepts one request at a time. Requests return immediately and
// their results are delivered through the Callback given to New.
type UploadConsole interface {
	// RequestVersion asks the device for the installed version of image t.
	// It returns false when a request is already in flight or the transport
	// cannot answer version queries.
	RequestVersion(t FirmwareType) bool

	// UploadFirmware uploads img as image t at address. Address is only used
	// by the streaming protocol. It returns false when a request is already
	// in flight; failures after acceptance are reported via the callback.
	UploadFirmware(t FirmwareType, img Image, address uint32) bool

	// IsBusy reports whether a request is in flight. It is already false
	// when the terminal callback runs, so a caller on another goroutine may
	// see false shortly before that callback has been delivered.
	IsBusy() bool
}

// New builds the console matching the channels dev exposes. A device with all
// three OTA channels gets the streaming protocol; otherwise a device with a
// console gets the handshake protocol.
func New(dev any, cb Callback, opts ...Option) (UploadConsole, error) {
	if cb == nil {
		cb = CallbackFuncs{}
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if ota, ok := dev.(OTADevice); ok {
		control, upload, reboot := ota.Control(), ota.Upload(), ota.Reboot()
		if control != nil && upload != nil && reboot != nil {
			o.logger.Debug("Using streaming upload protocol", "chunk_size", upload.ChunkSize())
			return newStreamingConsole(control, upload, reboot, cb, o), nil
		}
	}

	if cd, ok := dev.(ConsoleDevice); ok {
		if console := cd.Console(); console != nil {
			o.logger.Debug("Using handshake upload protocol")
			return newHandshakeConsole(console, cb, o), nil
		}
	}

	return nil, fmt.Errorf("%w (%T)", ErrUnsupportedTransport, dev)
}

// notifications are callback invocations collected under the console lock
// and run after it is released.
type notifications []func()

func (n *notifications) add(fn func()) {
	*n = append(*n, fn)
}

func (n notifications) run() {
	for _, fn := range n {
		fn()
	}
}
