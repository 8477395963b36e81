// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/Thermoquad/fwlift/pkg/log"
)

// Handshake protocol constants.
const (
	ChunkSize  = 16
	WindowSize = 10

	DefaultWatchdogTimeout = 1000 * time.Millisecond
	DefaultRebootTimeout   = 30 * time.Second
)

// ackSuccess is the final verdict byte of a verified upload.
const ackSuccess = 0x01

type options struct {
	logger          log.Logger
	clock           clock.WithDelayedExecution
	watchdogTimeout time.Duration
	rebootTimeout   time.Duration
}

// Option configures New.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:          log.NewNopLogger(),
		clock:           clock.RealClock{},
		watchdogTimeout: DefaultWatchdogTimeout,
		rebootTimeout:   DefaultRebootTimeout,
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces the clock driving the watchdog and reboot timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithWatchdogTimeout sets how long the handshake protocol waits for a send
// confirmation or the final verdict.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.watchdogTimeout = d
		}
	}
}

// WithRebootTimeout sets how long the streaming protocol waits for the reboot
// notification after EndUpload.
func WithRebootTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.rebootTimeout = d
		}
	}
}
