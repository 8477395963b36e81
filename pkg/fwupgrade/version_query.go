// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwupgrade

import (
	"bytes"

	"github.com/Thermoquad/fwlift/pkg/log"
)

// lineTerminator ends every version response.
var lineTerminator = []byte("\r\n")

func (c *handshakeConsole) RequestVersion(t FirmwareType) bool {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return false
	}

	spec, ok := lookupSpec(t)
	if !ok {
		c.mu.Unlock()
		c.log.Warn("Version requested for unknown firmware type", "type", t.String())
		c.cb.OnVersionRead(t, nil)
		return true
	}

	q := &versionQuery{
		c:    c,
		t:    t,
		spec: spec,
		log:  c.log.WithValues("type", t.String()),
	}
	c.setHandler(q)
	if err := c.write(spec.versionRequest); err != nil {
		c.setHandler(nil)
		c.mu.Unlock()
		q.log.Error(err, "Failed to send version request")
		return false
	}
	c.mu.Unlock()

	return true
}

// versionQuery accumulates the response to a version request until a full
// line parses.
type versionQuery struct {
	c    *handshakeConsole
	t    FirmwareType
	spec firmwareSpec
	log  log.Logger
	buf  []byte
}

func (q *versionQuery) OnReceived(p []byte) {
	c := q.c
	c.mu.Lock()
	if c.active != q {
		c.mu.Unlock()
		return
	}

	q.buf = append(q.buf, p...)
	var v *Version
	for v == nil {
		end := bytes.Index(q.buf, lineTerminator)
		if end < 0 {
			c.mu.Unlock()
			return
		}

		line := string(q.buf[:end])
		q.buf = q.buf[end+len(lineTerminator):]

		var err error
		v, err = q.spec.parse(line)
		if err != nil {
			// Noise or a fragment of something else; keep listening.
			q.log.Debug("Discarding unparsable response", "line", line, "reason", err.Error())
		}
	}

	c.setHandler(nil)
	c.mu.Unlock()

	q.log.Debug("Version read", "version", v.String())
	c.cb.OnVersionRead(q.t, v)
}

// OnSent resolves the query with a nil version when the request never left.
func (q *versionQuery) OnSent(_ []byte, err error) {
	if err == nil {
		return
	}

	c := q.c
	c.mu.Lock()
	if c.active != q {
		c.mu.Unlock()
		return
	}
	c.setHandler(nil)
	c.mu.Unlock()

	q.log.Error(err, "Version request was not sent")
	c.cb.OnVersionRead(q.t, nil)
}

// OnError is ignored; the query stays attached.
func (q *versionQuery) OnError(err error) {
	q.log.Debug("Ignoring console error during version query", "error", err.Error())
}

func (q *versionQuery) release() {
	q.buf = nil
}
