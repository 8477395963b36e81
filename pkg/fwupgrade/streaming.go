// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/Thermoquad/fwlift/pkg/log"
)

// streamingConsole pushes images over structured OTA channels. Completion is
// decided by the device's reboot notification only.
type streamingConsole struct {
	mu      sync.Mutex
	control ControlChannel
	upload  UploadChannel
	reboot  RebootChannel
	cb      Callback
	opts    options
	log     log.Logger

	active *pushUpload
}

func newStreamingConsole(control ControlChannel, upload UploadChannel, reboot RebootChannel, cb Callback, o options) *streamingConsole {
	return &streamingConsole{
		control: control,
		upload:  upload,
		reboot:  reboot,
		cb:      cb,
		opts:    o,
		log:     o.logger.WithName("streaming"),
	}
}

// RequestVersion is not available over OTA channels.
func (c *streamingConsole) RequestVersion(t FirmwareType) bool {
	c.log.Debug("Version query not supported by the OTA transport", "type", t.String())
	return false
}

func (c *streamingConsole) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *streamingConsole) UploadFirmware(t FirmwareType, img Image, address uint32) bool {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.log.Debug("Upload rejected, console busy", "image", img.Name())
		return false
	}

	var n notifications
	c.startUpload(t, img, address, &n)
	c.mu.Unlock()

	n.run()
	return true
}

// setActive swaps the active session, releasing the previous one. Must be
// called with c.mu held.
func (c *streamingConsole) setActive(h *pushUpload) {
	if c.active != nil {
		c.active.release()
	}
	c.active = h
}

// pushUpload is one streaming session, guarded by the console lock.
type pushUpload struct {
	c     *streamingConsole
	log   log.Logger
	t     FirmwareType
	img   Image
	state *fsm.FSM

	r         io.ReadCloser
	total     int64
	remaining int64

	unsubscribe func()
	timer       clock.Timer
}

func (c *streamingConsole) startUpload(t FirmwareType, img Image, address uint32, n *notifications) {
	id := uuid.NewString()
	h := &pushUpload{
		c:     c,
		log:   c.log.WithValues("session", id, "image", img.Name(), "type", t.String()),
		t:     t,
		img:   img,
		state: newStreamingFSM(),
	}

	if _, ok := lookupSpec(t); !ok {
		h.fail(n, KindInvalidFwFile, fmt.Errorf("unsupported firmware type %s", t), false)
		return
	}

	r, size, err := img.Open()
	if err != nil {
		h.fail(n, KindInvalidFwFile, fmt.Errorf("failed to open image: %w", err), false)
		return
	}
	h.r, h.total, h.remaining = r, size, size

	c.setActive(h)
	h.unsubscribe = c.reboot.Subscribe(h.onReboot)
	_ = advance(h.state, eventStart)

	if err := c.control.StartUpload(t, address); err != nil {
		h.fail(n, KindTransmission, fmt.Errorf("start upload rejected: %w", err), false)
		return
	}
	h.log.Info("Upload started", "length", size, "address", fmt.Sprintf("0x%08X", address),
		"chunk_size", c.upload.ChunkSize())

	if size == 0 {
		h.finish(n)
		return
	}

	if err := c.upload.Upload(r, h.onChunk, h.onUploadError); err != nil {
		h.fail(n, KindTransmission, fmt.Errorf("upload rejected: %w", err), true)
	}
}

// onChunk counts down the remaining bytes by the nominal chunk size.
func (h *pushUpload) onChunk(written int) {
	c := h.c
	c.mu.Lock()
	if c.active != h || h.state.Current() != StateUploading {
		c.mu.Unlock()
		return
	}

	chunk := int64(c.upload.ChunkSize())
	if int64(written) != chunk && h.remaining > chunk {
		// TODO: count the reported bytes once every transport reports real
		// chunk lengths; until then the nominal size drives completion.
		h.log.Warn("Transport wrote a short chunk before the end of the image",
			"written", written, "chunk_size", chunk, "remaining", h.remaining)
	}

	h.remaining -= chunk
	if h.remaining < 0 {
		h.remaining = 0
	}

	var n notifications
	remaining, img, cb := h.remaining, h.img, c.cb
	n.add(func() { cb.OnUploadProgress(img, remaining) })

	if h.remaining == 0 {
		h.finish(&n)
	}
	c.mu.Unlock()

	n.run()
}

func (h *pushUpload) onUploadError(err error) {
	c := h.c
	c.mu.Lock()
	if c.active != h || h.state.Current() != StateUploading {
		c.mu.Unlock()
		return
	}

	var n notifications
	h.fail(&n, KindTransmission, fmt.Errorf("upload failed: %w", err), true)
	c.mu.Unlock()

	n.run()
}

// finish ends the transfer and waits for the reboot notification.
func (h *pushUpload) finish(n *notifications) {
	_ = advance(h.state, eventFinish)

	if err := h.c.control.EndUpload(); err != nil {
		h.fail(n, KindTransmission, fmt.Errorf("end upload rejected: %w", err), true)
		return
	}

	h.log.Debug("Image pushed, awaiting reboot", "bytes", h.total)
	h.timer = h.c.opts.clock.AfterFunc(h.c.opts.rebootTimeout, h.onRebootTimeout)
}

func (h *pushUpload) onReboot(ev RebootEvent) {
	c := h.c
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	var n notifications
	switch {
	case h.state.Current() != StateAwaitingReboot:
		h.fail(&n, KindTransmission, fmt.Errorf("device rebooted (status 0x%02X) before the upload finished", uint8(ev.Status)), false)
	case ev.Rebooting():
		_ = advance(h.state, eventRebooted)
		h.log.Info("Upload complete, device rebooting", "bytes", h.total)
		c.setActive(nil)
		img, cb := h.img, c.cb
		n.add(func() { cb.OnUploadComplete(img) })
	default:
		h.fail(&n, KindTransmission, fmt.Errorf("device reported reboot status 0x%02X", uint8(ev.Status)), false)
	}
	c.mu.Unlock()

	n.run()
}

func (h *pushUpload) onRebootTimeout() {
	c := h.c
	c.mu.Lock()
	if c.active != h || h.state.Current() != StateAwaitingReboot {
		c.mu.Unlock()
		return
	}

	h.timer = nil

	var n notifications
	h.fail(&n, KindTransmission, errors.New("no reboot notification within "+c.opts.rebootTimeout.String()), false)
	c.mu.Unlock()

	n.run()
}

func (h *pushUpload) release() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.r != nil {
		_ = h.r.Close()
		h.r = nil
	}
}

// fail resolves the session with a terminal error. cancel asks the device to
// drop the partial image. Must be called with the console lock held.
func (h *pushUpload) fail(n *notifications, kind ErrorKind, cause error, cancel bool) {
	if isTerminal(h.state.Current()) {
		return
	}
	_ = advance(h.state, eventFail)

	h.log.Error(cause, "Upload failed", "kind", kind.String(), "remaining", h.remaining)
	if cancel {
		if err := h.c.control.CancelUpload(); err != nil {
			h.log.Warn("Cancel upload failed", "error", err.Error())
		}
	}
	if h.c.active == h {
		h.c.setActive(nil)
	} else {
		h.release()
	}

	err := newUploadError(kind, h.img.Name(), cause)
	img, cb := h.img, h.c.cb
	n.add(func() { cb.OnUploadError(img, err) })
}
