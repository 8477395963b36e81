// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrFrame is wrapped by every framing error. Framing errors only lose the
// current frame; decoding continues with the next START byte.
var ErrFrame = errors.New("otalink: bad frame")

// Decoder states
const (
	stateIdle = iota
	stateLength
	stateChannel
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Decoder reassembles messages from a byte stream one byte at a time.
type Decoder struct {
	state  int
	escape bool
	length int
	// data holds len | channel | payload, unstuffed.
	data []byte
	crc  uint16
}

func NewDecoder() *Decoder {
	return &Decoder{data: make([]byte, 0, MaxPayloadSize+2)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escape = false
	d.length = 0
	d.data = d.data[:0]
	d.crc = 0
}

// DecodeByte feeds one wire byte. It returns a message when b completes a
// valid frame. Bytes outside a frame are ignored.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	switch {
	case b == StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case b == EndByte:
		return d.finish()
	case d.state == stateIdle:
		return nil, nil
	case b == EscByte && !d.escape:
		d.escape = true
		return nil, nil
	}

	if d.escape {
		b ^= EscXor
		d.escape = false
	}

	switch d.state {
	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: length %d exceeds %d", ErrFrame, b, MaxPayloadSize)
		}
		d.length = int(b)
		d.data = append(d.data, b)
		d.state = stateChannel
	case stateChannel:
		d.data = append(d.data, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.data = append(d.data, b)
		if len(d.data)-2 == d.length {
			d.state = stateCRC1
		}
	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd
	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("%w: data after CRC", ErrFrame)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Message, error) {
	defer d.Reset()

	switch d.state {
	case stateIdle:
		return nil, nil
	case stateEnd:
	default:
		return nil, fmt.Errorf("%w: END byte in state %d", ErrFrame, d.state)
	}

	if want := CRC16(d.data); want != d.crc {
		return nil, fmt.Errorf("%w: CRC mismatch: expected 0x%04X, got 0x%04X", ErrFrame, want, d.crc)
	}

	m, err := UnmarshalBody(Channel(d.data[1]), d.data[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	return m, nil
}

// Reader reads framed messages from a stream.
type Reader struct {
	r *bufio.Reader
	d *Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), d: NewDecoder()}
}

// ReadMessage blocks until a full message is decoded. Errors wrapping ErrFrame
// are recoverable; any other error comes from the underlying stream.
func (r *Reader) ReadMessage() (*Message, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		m, err := r.d.DecodeByte(b)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}
}
