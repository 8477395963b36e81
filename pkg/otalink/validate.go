// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"fmt"
	"math"
)

// ValidationError reports a message that decoded but breaks the OTA schema.
type ValidationError struct {
	Type   MsgType
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Type, e.Reason)
}

var msgChannels = map[MsgType]Channel{
	MsgStartUpload:  ChannelControl,
	MsgEndUpload:    ChannelControl,
	MsgCancelUpload: ChannelControl,
	MsgChunk:        ChannelUpload,
	MsgChunkAck:     ChannelUpload,
	MsgReboot:       ChannelReboot,
}

// Validate checks that m travels on its channel and carries its required
// fields.
func Validate(m *Message) error {
	ch, ok := msgChannels[m.Type]
	if !ok {
		return &ValidationError{Type: m.Type, Reason: "unknown message type"}
	}
	if ch != m.Channel {
		return &ValidationError{Type: m.Type, Reason: fmt.Sprintf("sent on %s channel, want %s", m.Channel, ch)}
	}

	switch m.Type {
	case MsgStartUpload:
		t, ok := m.Uint(KeyFirmwareType)
		if !ok || t > math.MaxUint8 {
			return &ValidationError{Type: m.Type, Reason: "missing or invalid firmware type"}
		}
		a, ok := m.Uint(KeyAddress)
		if !ok || a > math.MaxUint32 {
			return &ValidationError{Type: m.Type, Reason: "missing or invalid address"}
		}
	case MsgChunk:
		data, ok := m.Bytes(KeyChunkData)
		if !ok || len(data) == 0 {
			return &ValidationError{Type: m.Type, Reason: "missing chunk data"}
		}
		if len(data) > ChunkSize {
			return &ValidationError{Type: m.Type, Reason: fmt.Sprintf("chunk of %d bytes exceeds %d", len(data), ChunkSize)}
		}
	case MsgChunkAck:
		n, ok := m.Uint(KeyAckLength)
		if !ok || n > ChunkSize {
			return &ValidationError{Type: m.Type, Reason: "missing or invalid acknowledged length"}
		}
	case MsgReboot:
		s, ok := m.Uint(KeyRebootStatus)
		if !ok || s > math.MaxUint8 {
			return &ValidationError{Type: m.Type, Reason: "missing or invalid reboot status"}
		}
	}
	return nil
}
