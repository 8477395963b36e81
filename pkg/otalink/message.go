// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message is one decoded OTA message.
type Message struct {
	Channel Channel
	Type    MsgType
	// Fields is the payload map; nil for messages without payload.
	Fields map[int]any
}

// body is the CBOR shape of a message: [type, fields].
type body struct {
	_      struct{} `cbor:",toarray"`
	Type   uint8
	Fields map[int]any
}

// Core deterministic encoding keeps frames byte-identical for equal messages.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("otalink: cbor encode mode: %v", err))
	}
	return em
}()

// MarshalBody returns the CBOR body of m without framing.
func MarshalBody(m *Message) ([]byte, error) {
	fields := m.Fields
	if len(fields) == 0 {
		fields = nil
	}
	data, err := encMode.Marshal(body{Type: uint8(m.Type), Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR body: %w", err)
	}
	return data, nil
}

// UnmarshalBody decodes a CBOR body received on channel ch.
func UnmarshalBody(ch Channel, data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR body")
	}
	var b body
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR body: %w", err)
	}
	return &Message{Channel: ch, Type: MsgType(b.Type), Fields: b.Fields}, nil
}

// Uint returns an unsigned integer field.
func (m *Message) Uint(key int) (uint64, bool) {
	v, ok := m.Fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	case uint32:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

// Bytes returns a byte string field.
func (m *Message) Bytes(key int) ([]byte, bool) {
	v, ok := m.Fields[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func NewStartUpload(firmwareType uint8, address uint32) *Message {
	return &Message{
		Channel: ChannelControl,
		Type:    MsgStartUpload,
		Fields:  map[int]any{KeyFirmwareType: uint64(firmwareType), KeyAddress: uint64(address)},
	}
}

func NewEndUpload() *Message {
	return &Message{Channel: ChannelControl, Type: MsgEndUpload}
}

func NewCancelUpload() *Message {
	return &Message{Channel: ChannelControl, Type: MsgCancelUpload}
}

// NewChunk wraps up to ChunkSize image bytes. data is not copied.
func NewChunk(data []byte) *Message {
	return &Message{
		Channel: ChannelUpload,
		Type:    MsgChunk,
		Fields:  map[int]any{KeyChunkData: data},
	}
}

func NewChunkAck(n int) *Message {
	return &Message{
		Channel: ChannelUpload,
		Type:    MsgChunkAck,
		Fields:  map[int]any{KeyAckLength: uint64(n)},
	}
}

func NewReboot(status uint8) *Message {
	return &Message{
		Channel: ChannelReboot,
		Type:    MsgReboot,
		Fields:  map[int]any{KeyRebootStatus: uint64(status)},
	}
}
