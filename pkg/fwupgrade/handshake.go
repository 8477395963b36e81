// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/Thermoquad/fwlift/pkg/log"
	"github.com/Thermoquad/fwlift/pkg/stm32crc"
)

// consoleHandler is the request currently owning the console listener slot.
type consoleHandler interface {
	ConsoleListener

	// release stops timers and closes the image. Called with the console
	// lock held.
	release()
}

// handshakeConsole runs version queries and CRC-gated uploads over a Console.
type handshakeConsole struct {
	mu      sync.Mutex
	console Console
	cb      Callback
	opts    options
	log     log.Logger

	// active owns the listener slot. Replacing it is the only way a request
	// is cancelled.
	active consoleHandler
}

func newHandshakeConsole(console Console, cb Callback, o options) *handshakeConsole {
	return &handshakeConsole{
		console: console,
		cb:      cb,
		opts:    o,
		log:     o.logger.WithName("handshake"),
	}
}

func (c *handshakeConsole) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// setHandler swaps the active handler, releasing the previous one before it
// returns. Must be called with c.mu held.
func (c *handshakeConsole) setHandler(h consoleHandler) {
	if c.active != nil {
		c.active.release()
	}
	c.active = h
	if h == nil {
		c.console.SetListener(nil)
		return
	}
	c.console.SetListener(h)
}

func (c *handshakeConsole) write(p []byte) error {
	n, err := c.console.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: %d of %d bytes", io.ErrShortWrite, n, len(p))
	}
	return nil
}

func (c *handshakeConsole) UploadFirmware(t FirmwareType, img Image, address uint32) bool {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.log.Debug("Upload rejected, console busy", "image", img.Name())
		return false
	}

	var n notifications
	c.startUpload(t, img, &n)
	c.mu.Unlock()

	n.run()
	return true
}

// handshakeUpload is one upload session. All fields are guarded by the
// console lock.
type handshakeUpload struct {
	c     *handshakeConsole
	log   log.Logger
	t     FirmwareType
	img   Image
	state *fsm.FSM

	r     io.ReadCloser
	total int64
	sent  int64
	crc   uint32

	echo         []byte
	startPending bool
	confirmed    int

	timer    clock.Timer
	timerGen uint64
}

func (c *handshakeConsole) startUpload(t FirmwareType, img Image, n *notifications) {
	id := uuid.NewString()
	h := &handshakeUpload{
		c:     c,
		log:   c.log.WithValues("session", id, "image", img.Name(), "type", t.String()),
		t:     t,
		img:   img,
		state: newHandshakeFSM(),
	}

	spec, ok := lookupSpec(t)
	if !ok {
		h.fail(n, KindInvalidFwFile, fmt.Errorf("unsupported firmware type %s", t))
		return
	}

	_ = advance(h.state, eventCompute)
	crc, length, err := imageChecksum(img)
	if err != nil {
		h.fail(n, KindInvalidFwFile, err)
		return
	}
	if length > math.MaxUint32 {
		h.fail(n, KindInvalidFwFile, fmt.Errorf("image too large: %d bytes", length))
		return
	}

	r, size, err := img.Open()
	if err != nil {
		h.fail(n, KindInvalidFwFile, fmt.Errorf("failed to open image: %w", err))
		return
	}
	if size != length {
		_ = r.Close()
		h.fail(n, KindInvalidFwFile, fmt.Errorf("image length changed between passes: %d then %d", length, size))
		return
	}
	h.r, h.total, h.crc = r, size, crc

	// Attach before writing so an early echo is not lost.
	c.setHandler(h)
	_ = advance(h.state, eventAnnounce)

	h.startPending = true
	if err := c.write(startCommand(spec.uploadTag, uint32(size), crc)); err != nil {
		h.fail(n, KindTransmission, fmt.Errorf("failed to send start command: %w", err))
		return
	}

	h.log.Info("Upload announced", "length", size, "crc", fmt.Sprintf("0x%08X", crc))
}

// imageChecksum runs the CRC pass over a dedicated open of img.
func imageChecksum(img Image) (uint32, int64, error) {
	r, length, err := img.Open()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer r.Close()

	d := stm32crc.New()
	copied, err := io.Copy(d, r)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image: %w", err)
	}
	if copied != length {
		return 0, 0, fmt.Errorf("image holds %d bytes, expected %d", copied, length)
	}

	return d.Sum32(), length, nil
}

// startCommand builds tag ‖ length ‖ crc, integers little-endian.
func startCommand(tag []byte, length, crc uint32) []byte {
	cmd := make([]byte, 0, len(tag)+8)
	cmd = append(cmd, tag...)
	cmd = binary.LittleEndian.AppendUint32(cmd, length)
	cmd = binary.LittleEndian.AppendUint32(cmd, crc)
	return cmd
}

func (h *handshakeUpload) OnReceived(p []byte) {
	c := h.c
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	var n notifications
	switch h.state.Current() {
	case StateAwaitingCrcEcho:
		h.onEcho(p, &n)
	case StateUploading:
		h.fail(&n, KindCorruptedFile, fmt.Errorf("device answered after %d of %d bytes: % X", h.sent, h.total, p))
	case StateAwaitingFinalAck:
		h.onVerdict(p, &n)
	}
	c.mu.Unlock()

	n.run()
}

func (h *handshakeUpload) OnSent(p []byte, err error) {
	c := h.c
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	var n notifications
	switch {
	case err != nil:
		h.fail(&n, KindTransmission, fmt.Errorf("send failed: %w", err))
	case h.startPending:
		// The echo must follow within one watchdog interval.
		h.startPending = false
		h.arm()
	case h.state.Current() == StateUploading || h.state.Current() == StateAwaitingFinalAck:
		h.onConfirmed(&n)
	}
	c.mu.Unlock()

	n.run()
}

func (h *handshakeUpload) OnError(err error) {
	c := h.c
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	var n notifications
	h.fail(&n, KindTransmission, fmt.Errorf("console error: %w", err))
	c.mu.Unlock()

	n.run()
}

func (h *handshakeUpload) onEcho(p []byte, n *notifications) {
	h.echo = append(h.echo, p...)
	if len(h.echo) < stm32crc.Size {
		return
	}

	want := binary.LittleEndian.AppendUint32(nil, h.crc)
	if !bytes.Equal(h.echo[:stm32crc.Size], want) {
		h.fail(n, KindTransmission, fmt.Errorf("crc echo % X does not match % X", h.echo[:stm32crc.Size], want))
		return
	}

	_ = advance(h.state, eventEchoed)
	h.log.Debug("CRC echoed, sending image")
	h.arm()
	h.sendWindow(n)
}

func (h *handshakeUpload) onConfirmed(n *notifications) {
	h.confirmed++
	h.arm()

	if h.confirmed%WindowSize != 0 {
		return
	}

	remaining := h.total - h.sent
	img, cb := h.img, h.c.cb
	n.add(func() { cb.OnUploadProgress(img, remaining) })

	if h.state.Current() == StateUploading {
		h.sendWindow(n)
	}
}

// sendWindow writes up to WindowSize chunks without waiting for their
// confirmations.
func (h *handshakeUpload) sendWindow(n *notifications) {
	for i := 0; i < WindowSize && h.sent < h.total; i++ {
		// Each chunk gets its own buffer; the console may hold it until OnSent.
		chunk := make([]byte, min(int64(ChunkSize), h.total-h.sent))
		if _, err := io.ReadFull(h.r, chunk); err != nil {
			h.fail(n, KindTransmission, fmt.Errorf("failed to read image at offset %d: %w", h.sent, err))
			return
		}
		if err := h.c.write(chunk); err != nil {
			h.fail(n, KindTransmission, fmt.Errorf("failed to send chunk at offset %d: %w", h.sent, err))
			return
		}
		h.sent += int64(len(chunk))
	}

	if h.sent == h.total {
		_ = advance(h.state, eventDrained)
		h.log.Debug("Image sent, awaiting verdict", "bytes", h.sent)
	}
}

func (h *handshakeUpload) onVerdict(p []byte, n *notifications) {
	if len(p) != 1 || p[0] != ackSuccess {
		h.fail(n, KindCorruptedFile, fmt.Errorf("device rejected image: % X", p))
		return
	}

	_ = advance(h.state, eventAcked)
	h.log.Info("Upload complete", "bytes", h.total)
	h.c.setHandler(nil)

	img, cb := h.img, h.c.cb
	n.add(func() { cb.OnUploadComplete(img) })
}

// arm restarts the watchdog. A timer that already fired but has not yet
// taken the lock is discarded by the generation check.
func (h *handshakeUpload) arm() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timerGen++
	gen := h.timerGen
	h.timer = h.c.opts.clock.AfterFunc(h.c.opts.watchdogTimeout, func() {
		h.onWatchdog(gen)
	})
}

func (h *handshakeUpload) onWatchdog(gen uint64) {
	c := h.c
	c.mu.Lock()
	if c.active != h || gen != h.timerGen {
		c.mu.Unlock()
		return
	}

	// Already fired, nothing left to stop.
	h.timer = nil

	var n notifications
	h.fail(&n, KindTransmission, fmt.Errorf("no progress within %s after %d of %d bytes",
		c.opts.watchdogTimeout, h.sent, h.total))
	c.mu.Unlock()

	n.run()
}

func (h *handshakeUpload) release() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.timerGen++
	if h.r != nil {
		_ = h.r.Close()
		h.r = nil
	}
}

// fail resolves the session with a terminal error. Must be called with the
// console lock held.
func (h *handshakeUpload) fail(n *notifications, kind ErrorKind, cause error) {
	if isTerminal(h.state.Current()) {
		return
	}
	_ = advance(h.state, eventFail)

	h.log.Error(cause, "Upload failed", "kind", kind.String(), "sent", h.sent, "total", h.total)
	if h.c.active == h {
		h.c.setHandler(nil)
	} else {
		h.release()
	}

	err := newUploadError(kind, h.img.Name(), cause)
	img, cb := h.img, h.c.cb
	n.add(func() { cb.OnUploadError(img, err) })
}
