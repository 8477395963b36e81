// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package otalink frames the structured OTA channels (control, upload and
// reboot) over a byte stream such as a serial port or WebSocket.
//
// Wire format:
//
//	START(0x7E) | stuffed( len | channel | cbor | crc16 ) | END(0x7F)
//
// The CBOR body is a two element array [msgType, {key: value}]. The CRC is
// CRC-16-CCITT over len, channel and the body, sent big-endian. 0x7E, 0x7F and
// 0x7D inside the frame are escaped as 0x7D followed by the byte XOR 0x20.
package otalink

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Size limits
const (
	MaxPayloadSize = 240
	// ChunkSize is the image bytes carried by one MsgChunk. It leaves room for
	// the array, map and byte string headers inside MaxPayloadSize.
	ChunkSize = 200
	// frameOverhead is len + channel + crc16.
	frameOverhead = 4
)

// CRC-16-CCITT
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Channel is the logical OTA channel a message travels on.
type Channel uint8

const (
	ChannelControl Channel = 0x01
	ChannelUpload  Channel = 0x02
	ChannelReboot  Channel = 0x03
)

func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelUpload:
		return "upload"
	case ChannelReboot:
		return "reboot"
	}
	return "unknown"
}

// MsgType identifies a message within its channel.
type MsgType uint8

// Control channel (host → device)
const (
	MsgStartUpload  MsgType = 0x10
	MsgEndUpload    MsgType = 0x11
	MsgCancelUpload MsgType = 0x12
)

// Upload channel
const (
	MsgChunk    MsgType = 0x20 // host → device
	MsgChunkAck MsgType = 0x21 // device → host
)

// Reboot channel (device → host)
const (
	MsgReboot MsgType = 0x30
)

// Payload keys
const (
	KeyFirmwareType = 0
	KeyAddress      = 1

	KeyChunkData = 0
	KeyAckLength = 0

	KeyRebootStatus = 0
)

// RebootNormal is the reboot status of a device that accepted the image.
const RebootNormal = 0x01
