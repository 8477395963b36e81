// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"fmt"
	"sort"
	"strings"
)

func (t MsgType) String() string {
	switch t {
	case MsgStartUpload:
		return "START_UPLOAD"
	case MsgEndUpload:
		return "END_UPLOAD"
	case MsgCancelUpload:
		return "CANCEL_UPLOAD"
	case MsgChunk:
		return "CHUNK"
	case MsgChunkAck:
		return "CHUNK_ACK"
	case MsgReboot:
		return "REBOOT"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
}

// String renders m on one line for logs.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Channel.String())
	sb.WriteByte('/')
	sb.WriteString(m.Type.String())

	switch m.Type {
	case MsgStartUpload:
		t, _ := m.Uint(KeyFirmwareType)
		a, _ := m.Uint(KeyAddress)
		fmt.Fprintf(&sb, " type=%d address=0x%08X", t, a)
	case MsgChunk:
		data, _ := m.Bytes(KeyChunkData)
		fmt.Fprintf(&sb, " bytes=%d", len(data))
	case MsgChunkAck:
		n, _ := m.Uint(KeyAckLength)
		fmt.Fprintf(&sb, " bytes=%d", n)
	case MsgReboot:
		s, _ := m.Uint(KeyRebootStatus)
		state := "abnormal"
		if s == RebootNormal {
			state = "normal"
		}
		fmt.Fprintf(&sb, " status=0x%02X (%s)", s, state)
	default:
		keys := make([]int, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %d=%v", k, m.Fields[k])
		}
	}
	return sb.String()
}
