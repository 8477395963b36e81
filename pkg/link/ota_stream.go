// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"sync"

	"github.com/Thermoquad/fwlift/pkg/otalink"
)

type streamSender struct {
	s  Stream
	mu sync.Mutex
	w  *otalink.Writer
}

func (t *streamSender) send(m *otalink.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WriteMessage(m)
}

func (t *streamSender) close() error {
	return t.s.Close()
}

// NewStreamOTA runs the OTA channels over otalink frames on s. Close stops
// the transport and closes s.
func NewStreamOTA(s Stream, opts ...Option) *OTA {
	o := newOTA(&streamSender{s: s, w: otalink.NewWriter(s)}, otalink.ChunkSize, buildOptions(opts), "ota")
	go o.readFrames(s)
	return o
}

func (o *OTA) readFrames(s Stream) {
	r := otalink.NewReader(s)
	for {
		m, err := r.ReadMessage()
		if errors.Is(err, otalink.ErrFrame) {
			o.log.Debug("Dropping bad frame", "reason", err.Error())
			continue
		}
		if err != nil {
			select {
			case <-o.done:
			default:
				o.log.Error(err, "OTA link read failed")
				_ = o.Close()
			}
			return
		}
		o.deliver(m)
	}
}
