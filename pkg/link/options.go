// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/Thermoquad/fwlift/pkg/log"
)

// DefaultAckTimeout bounds the wait for a chunk acknowledgement.
const DefaultAckTimeout = 2 * time.Second

type options struct {
	logger     log.Logger
	clock      clock.Clock
	ackTimeout time.Duration
	readSize   int
}

// Option configures a link.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		logger:     log.NewNopLogger(),
		clock:      clock.RealClock{},
		ackTimeout: DefaultAckTimeout,
		readSize:   256,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithAckTimeout sets how long an OTA upload waits for each chunk ack.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}
