// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
	"github.com/Thermoquad/fwlift/pkg/log"
	"github.com/Thermoquad/fwlift/pkg/otalink"
)

var _ fwupgrade.OTADevice = (*OTA)(nil)

// ErrUploadRunning is returned by Upload while a previous push is active.
var ErrUploadRunning = errors.New("upload already running")

// sender delivers one message to the device.
type sender interface {
	send(m *otalink.Message) error
	close() error
}

// OTA exposes the structured OTA channels of a device. The transport is
// either an otalink framed stream (NewStreamOTA) or MQTT (DialMQTT).
type OTA struct {
	tx        sender
	chunkSize int
	opts      options
	log       log.Logger

	inbox *eventQueue

	mu      sync.Mutex
	subs    map[uint64]func(fwupgrade.RebootEvent)
	nextSub uint64
	push    *push
	closed  bool

	done chan struct{}
}

// push is one running Upload.
type push struct {
	acks     chan int
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *push) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func newOTA(tx sender, chunkSize int, o options, name string) *OTA {
	return &OTA{
		tx:        tx,
		chunkSize: chunkSize,
		opts:      o,
		log:       o.logger.WithName(name),
		inbox:     newEventQueue(),
		subs:      make(map[uint64]func(fwupgrade.RebootEvent)),
		done:      make(chan struct{}),
	}
}

func (o *OTA) Control() fwupgrade.ControlChannel { return otaControl{o} }
func (o *OTA) Upload() fwupgrade.UploadChannel   { return otaUpload{o} }
func (o *OTA) Reboot() fwupgrade.RebootChannel   { return otaReboot{o} }

// Close stops the transport. A running push fails with ErrClosed.
func (o *OTA) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.done)
	err := o.tx.close()
	o.inbox.stop()
	return err
}

// deliver queues an inbound message for in-order handling.
func (o *OTA) deliver(m *otalink.Message) {
	o.inbox.enqueue(func() { o.handle(m) })
}

func (o *OTA) handle(m *otalink.Message) {
	if err := otalink.Validate(m); err != nil {
		o.log.Debug("Dropping invalid message", "message", m.String(), "reason", err.Error())
		return
	}
	o.log.Debug("Received", "message", m.String())

	switch m.Type {
	case otalink.MsgChunkAck:
		n, _ := m.Uint(otalink.KeyAckLength)
		o.mu.Lock()
		p := o.push
		o.mu.Unlock()
		if p == nil {
			o.log.Debug("Chunk ack without a running upload")
			return
		}
		select {
		case p.acks <- int(n):
		default:
			o.log.Warn("Dropping duplicate chunk ack", "bytes", n)
		}

	case otalink.MsgReboot:
		status, _ := m.Uint(otalink.KeyRebootStatus)
		ev := fwupgrade.RebootEvent{Status: fwupgrade.RebootStatus(status)}

		o.mu.Lock()
		subs := make([]func(fwupgrade.RebootEvent), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
		o.mu.Unlock()

		for _, fn := range subs {
			fn(ev)
		}

	default:
		o.log.Debug("Ignoring host bound message", "message", m.String())
	}
}

type otaControl struct{ o *OTA }

func (c otaControl) StartUpload(t fwupgrade.FirmwareType, address uint32) error {
	return c.o.tx.send(otalink.NewStartUpload(uint8(t), address))
}

func (c otaControl) EndUpload() error {
	return c.o.tx.send(otalink.NewEndUpload())
}

// CancelUpload halts a running push before telling the device.
func (c otaControl) CancelUpload() error {
	c.o.mu.Lock()
	if p := c.o.push; p != nil {
		p.halt()
	}
	c.o.mu.Unlock()
	return c.o.tx.send(otalink.NewCancelUpload())
}

type otaUpload struct{ o *OTA }

func (u otaUpload) ChunkSize() int { return u.o.chunkSize }

func (u otaUpload) Upload(r io.Reader, onChunk func(n int), onError func(err error)) error {
	o := u.o
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.push != nil {
		o.mu.Unlock()
		return ErrUploadRunning
	}
	p := &push{acks: make(chan int, 1), stop: make(chan struct{})}
	o.push = p
	o.mu.Unlock()

	go o.runPush(p, r, onChunk, onError)
	return nil
}

// errHalted ends a push quietly after CancelUpload.
var errHalted = errors.New("push halted")

// runPush sends r one chunk at a time, waiting for each ack.
func (o *OTA) runPush(p *push, r io.Reader, onChunk func(int), onError func(error)) {
	defer func() {
		o.mu.Lock()
		if o.push == p {
			o.push = nil
		}
		o.mu.Unlock()
	}()

	buf := make([]byte, o.chunkSize)
	for offset := 0; ; {
		n, err := io.ReadFull(r, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			onError(fmt.Errorf("failed to read image at offset %d: %w", offset, err))
			return
		}

		chunk := append([]byte(nil), buf[:n]...)
		if err := o.tx.send(otalink.NewChunk(chunk)); err != nil {
			onError(fmt.Errorf("failed to send chunk at offset %d: %w", offset, err))
			return
		}

		acked, err := o.awaitAck(p)
		if errors.Is(err, errHalted) {
			return
		}
		if err != nil {
			onError(fmt.Errorf("chunk at offset %d: %w", offset, err))
			return
		}

		offset += n
		onChunk(acked)
		if last {
			return
		}
	}
}

func (o *OTA) awaitAck(p *push) (int, error) {
	select {
	case n := <-p.acks:
		return n, nil
	case <-p.stop:
		return 0, errHalted
	case <-o.done:
		return 0, ErrClosed
	case <-o.opts.clock.After(o.opts.ackTimeout):
		return 0, fmt.Errorf("no ack within %s", o.opts.ackTimeout)
	}
}

type otaReboot struct{ o *OTA }

// Subscribe registers fn for reboot notifications. fn runs on the transport's
// event goroutine.
func (rb otaReboot) Subscribe(fn func(fwupgrade.RebootEvent)) func() {
	o := rb.o
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}
