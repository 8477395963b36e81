// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// memImage is an in-memory Image that counts opens and closes.
type memImage struct {
	name    string
	data    []byte
	openErr error

	mu     sync.Mutex
	opens  int
	closes int
}

func newMemImage(size int) *memImage {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return &memImage{name: "test.bin", data: data}
}

func (m *memImage) Name() string { return m.name }

func (m *memImage) Open() (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, 0, m.openErr
	}
	m.opens++
	return &countingCloser{Reader: bytes.NewReader(m.data), img: m}, int64(len(m.data)), nil
}

func (m *memImage) openCount() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

type countingCloser struct {
	io.Reader
	img *memImage
}

func (c *countingCloser) Close() error {
	c.img.mu.Lock()
	c.img.closes++
	c.img.mu.Unlock()
	return nil
}

// fakeConsole records writes and lets the test deliver listener events.
type fakeConsole struct {
	mu       sync.Mutex
	writes   [][]byte
	listener ConsoleListener
	writeErr error
	short    bool
}

func (f *fakeConsole) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.short {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (f *fakeConsole) SetListener(l ConsoleListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeConsole) current() ConsoleListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

func (f *fakeConsole) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeConsole) receive(p []byte) {
	if l := f.current(); l != nil {
		l.OnReceived(p)
	}
}

func (f *fakeConsole) sent(i int, err error) {
	w := f.written()
	if l := f.current(); l != nil {
		l.OnSent(w[i], err)
	}
}

func (f *fakeConsole) fail(err error) {
	if l := f.current(); l != nil {
		l.OnError(err)
	}
}

// consoleDevice exposes only a console.
type consoleDevice struct{ c Console }

func (d consoleDevice) Console() Console { return d.c }

// recorder is a Callback collecting every notification.
type recorder struct {
	mu       sync.Mutex
	versions []*Version
	progress []int64
	complete int
	errs     []error
	done     chan struct{}

	// busyAtTerminal is IsBusy sampled from inside the terminal callback.
	console        UploadConsole
	busyAtTerminal []bool
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) OnVersionRead(_ FirmwareType, v *Version) {
	r.mu.Lock()
	r.versions = append(r.versions, v)
	r.mu.Unlock()
	r.terminal()
}

func (r *recorder) OnUploadProgress(_ Image, remaining int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, remaining)
}

func (r *recorder) OnUploadComplete(Image) {
	r.mu.Lock()
	r.complete++
	r.mu.Unlock()
	r.terminal()
}

func (r *recorder) OnUploadError(_ Image, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.terminal()
}

func (r *recorder) terminal() {
	if r.console != nil {
		busy := r.console.IsBusy()
		r.mu.Lock()
		r.busyAtTerminal = append(r.busyAtTerminal, busy)
		r.mu.Unlock()
	}
	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a terminal callback")
	}
}

func (r *recorder) expectNoTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
		t.Fatal("unexpected terminal callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func (r *recorder) snapshot() (progress []int64, complete int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.progress...), r.complete, append([]error(nil), r.errs...)
}

func (r *recorder) singleError(t *testing.T, want error) {
	t.Helper()
	_, complete, errs := r.snapshot()
	if complete != 0 {
		t.Fatalf("got %d completions, want 0", complete)
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], want) {
		t.Fatalf("error %v does not match %v", errs[0], want)
	}
}
