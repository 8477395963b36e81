// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import "io"

// Image is a firmware image that can be read more than once.
type Image interface {
	// Name is used in logs and errors.
	Name() string

	// Open returns a fresh stream over the logical image bytes and their
	// count. Each call starts a new, independent pass.
	Open() (io.ReadCloser, int64, error)
}

// ConsoleListener receives console events. Implementations are called one
// event at a time, never from inside Console.Write.
type ConsoleListener interface {
	// OnReceived delivers bytes read from the device.
	OnReceived(p []byte)

	// OnSent confirms that a buffer passed to Write reached the transport.
	// Confirmations arrive in Write order; err is non-nil when the send
	// failed.
	OnSent(p []byte, err error)

	// OnError reports a transport error unrelated to a specific write.
	OnError(err error)
}

// Console is a duplex byte console to the device.
type Console interface {
	// Write queues p for transmission. A nil error with n == len(p) means the
	// write was accepted; the outcome is confirmed later with OnSent.
	Write(p []byte) (int, error)

	// SetListener replaces the current listener. nil detaches it.
	SetListener(l ConsoleListener)
}

// ControlChannel carries OTA control commands.
type ControlChannel interface {
	StartUpload(t FirmwareType, address uint32) error
	EndUpload() error
	CancelUpload() error
}

// UploadChannel pushes an image to the device.
type UploadChannel interface {
	// ChunkSize is the number of image bytes carried by one chunk.
	ChunkSize() int

	// Upload starts pushing r to the device and returns without waiting for
	// the transfer. onChunk is called after each chunk is written with the
	// number of bytes in it; onError is called at most once if the push
	// fails. Neither is called from inside Upload.
	Upload(r io.Reader, onChunk func(n int), onError func(err error)) error
}

// RebootStatus is the payload of a reboot notification.
type RebootStatus uint8

// RebootNormal is sent by a device that accepted the image and is rebooting
// into it.
const RebootNormal RebootStatus = 0x01

// RebootEvent is delivered by a RebootChannel subscription.
type RebootEvent struct {
	Status RebootStatus
}

// Rebooting reports whether the device announced a normal reboot.
func (e RebootEvent) Rebooting() bool {
	return e.Status == RebootNormal
}

// RebootChannel delivers the device's reboot notifications.
type RebootChannel interface {
	// Subscribe registers fn and enables notifications. The returned function
	// removes the subscription and disables notifications. fn is never called
	// from inside Subscribe.
	Subscribe(fn func(RebootEvent)) (unsubscribe func())
}

// ConsoleDevice is implemented by transports that expose a console.
type ConsoleDevice interface {
	Console() Console
}

// OTADevice is implemented by transports that expose structured OTA
// channels. Any accessor may return nil when the device lacks the channel.
type OTADevice interface {
	Control() ControlChannel
	Upload() UploadChannel
	Reboot() RebootChannel
}
