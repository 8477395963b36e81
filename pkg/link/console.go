// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
	"github.com/Thermoquad/fwlift/pkg/log"
)

var (
	_ fwupgrade.Console       = (*Console)(nil)
	_ fwupgrade.ConsoleDevice = (*Console)(nil)
)

// Console exposes a Stream as a fwupgrade.Console. Reads, sent
// confirmations and errors are delivered to the listener from a single
// event goroutine, never from inside Write.
type Console struct {
	s   Stream
	log log.Logger

	mu       sync.Mutex
	listener fwupgrade.ConsoleListener
	closed   bool

	writes chan []byte
	events *eventQueue
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewConsole starts reading s. Close stops the console and closes s.
func NewConsole(s Stream, opts ...Option) *Console {
	o := buildOptions(opts)
	c := &Console{
		s:      s,
		log:    o.logger.WithName("console"),
		writes: make(chan []byte, 64),
		events: newEventQueue(),
		done:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop(o.readSize)
	go c.writeLoop()
	return c
}

// Console returns c, so a *Console is itself a fwupgrade.ConsoleDevice.
func (c *Console) Console() fwupgrade.Console {
	return c
}

func (c *Console) SetListener(l fwupgrade.ConsoleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Write queues a copy of p. The send outcome is reported with OnSent.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	buf := append([]byte(nil), p...)
	select {
	case c.writes <- buf:
		return len(p), nil
	case <-c.done:
		return 0, ErrClosed
	}
}

// Close stops the console and closes the stream.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	err := c.s.Close()
	c.wg.Wait()
	c.events.stop()
	return err
}

func (c *Console) current() fwupgrade.ConsoleListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

func (c *Console) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Console) readLoop(size int) {
	defer c.wg.Done()

	buf := make([]byte, size)
	for {
		n, err := c.s.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.log.Debug("Received", "bytes", n)
			c.events.enqueue(func() {
				if l := c.current(); l != nil {
					l.OnReceived(data)
				}
			})
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Error(err, "Console read failed")
			readErr := fmt.Errorf("read: %w", err)
			c.events.enqueue(func() {
				if l := c.current(); l != nil {
					l.OnError(readErr)
				}
			})
			return
		}
	}
}

func (c *Console) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case p := <-c.writes:
			n, err := c.s.Write(p)
			if err == nil && n != len(p) {
				err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
			}
			if err != nil {
				c.log.Error(err, "Console write failed", "bytes", len(p))
				if c.isClosed() {
					err = errors.Join(ErrClosed, err)
				}
			}
			c.events.enqueue(func() {
				if l := c.current(); l != nil {
					l.OnSent(p, err)
				}
			})
		case <-c.done:
			return
		}
	}
}
