// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"fmt"
	"io"
)

// Encode returns m as a complete wire frame.
func Encode(m *Message) ([]byte, error) {
	payload, err := MarshalBody(m)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR body too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	data := make([]byte, 0, len(payload)+frameOverhead)
	data = append(data, byte(len(payload)), byte(m.Channel))
	data = append(data, payload...)
	crc := CRC16(data)
	data = append(data, byte(crc>>8), byte(crc))

	frame := make([]byte, 0, 2*len(data)+2)
	frame = append(frame, StartByte)
	frame = stuff(frame, data)
	frame = append(frame, EndByte)
	return frame, nil
}

// stuff appends data to dst, escaping framing bytes.
func stuff(dst, data []byte) []byte {
	for _, b := range data {
		switch b {
		case StartByte, EndByte, EscByte:
			dst = append(dst, EscByte, b^EscXor)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Writer writes framed messages to an underlying stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage encodes m and writes the frame in a single Write call.
func (w *Writer) WriteMessage(m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	n, err := w.w.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("failed to write frame: %w", io.ErrShortWrite)
	}
	return nil
}
