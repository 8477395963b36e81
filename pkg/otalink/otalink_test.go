// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otalink

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"check string", []byte("123456789"), 0x29B1},
		{"single zero", []byte{0x00}, 0xE1F0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(% X) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func decodeAll(t *testing.T, wire []byte) ([]*Message, []error) {
	t.Helper()
	d := NewDecoder()
	var msgs []*Message
	var errs []error
	for _, b := range wire {
		m, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs, errs
}

func TestRoundTrip(t *testing.T) {
	chunk := make([]byte, ChunkSize)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	tests := []struct {
		name string
		msg  *Message
	}{
		{"start upload", NewStartUpload(1, 0x08007000)},
		{"end upload", NewEndUpload()},
		{"cancel upload", NewCancelUpload()},
		{"full chunk", NewChunk(chunk)},
		{"framing bytes in chunk", NewChunk([]byte{StartByte, EndByte, EscByte, 0x00})},
		{"chunk ack", NewChunkAck(ChunkSize)},
		{"reboot", NewReboot(RebootNormal)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if wire[0] != StartByte || wire[len(wire)-1] != EndByte {
				t.Fatalf("frame not delimited: % X", wire)
			}
			if bytes.ContainsAny(wire[1:len(wire)-1], string([]byte{StartByte, EndByte})) {
				t.Fatalf("unescaped framing byte inside frame: % X", wire)
			}

			msgs, errs := decodeAll(t, wire)
			if len(errs) != 0 || len(msgs) != 1 {
				t.Fatalf("decoded %d messages, errors %v", len(msgs), errs)
			}
			got := msgs[0]
			if got.Channel != tt.msg.Channel || got.Type != tt.msg.Type {
				t.Errorf("got %s, want %s", got, tt.msg)
			}
			if err := Validate(got); err != nil {
				t.Errorf("Validate: %v", err)
			}

			again, err := Encode(got)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(again, wire) {
				t.Errorf("re-encoded frame differs:\n got % X\nwant % X", again, wire)
			}
		})
	}
}

func TestStartUploadFields(t *testing.T) {
	wire, err := Encode(NewStartUpload(1, 0x08007000))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msgs, _ := decodeAll(t, wire)
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages", len(msgs))
	}
	if v, ok := msgs[0].Uint(KeyFirmwareType); !ok || v != 1 {
		t.Errorf("firmware type = %d, %v", v, ok)
	}
	if v, ok := msgs[0].Uint(KeyAddress); !ok || v != 0x08007000 {
		t.Errorf("address = 0x%X, %v", v, ok)
	}
}

func TestStuffing(t *testing.T) {
	got := stuff(nil, []byte{0x01, StartByte, EndByte, EscByte, 0x02})
	want := []byte{0x01, EscByte, 0x5E, EscByte, 0x5F, EscByte, 0x5D, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("stuff = % X, want % X", got, want)
	}
}

func TestDecoderErrors(t *testing.T) {
	good, err := Encode(NewReboot(RebootNormal))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	corruptCRC := append([]byte(nil), good...)
	corruptCRC[len(corruptCRC)-2] ^= 0x01

	tests := []struct {
		name string
		wire []byte
	}{
		{"crc mismatch", corruptCRC},
		{"length too large", []byte{StartByte, 0xF1, 0x01, EndByte}},
		{"end before crc", []byte{StartByte, 0x02, 0x01, 0x82, EndByte}},
		{"data after crc", append(append([]byte(nil), good[:len(good)-1]...), 0x00, EndByte)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, errs := decodeAll(t, tt.wire)
			if len(msgs) != 0 {
				t.Fatalf("decoded %d messages from a bad frame", len(msgs))
			}
			if len(errs) == 0 {
				t.Fatal("no error reported")
			}
			if !errors.Is(errs[0], ErrFrame) {
				t.Errorf("error %v does not wrap ErrFrame", errs[0])
			}
		})
	}
}

func TestDecoderRecovers(t *testing.T) {
	good, _ := Encode(NewChunkAck(200))

	var wire []byte
	wire = append(wire, 0x00, 0x55, EndByte)            // noise and a stray END
	wire = append(wire, good[:len(good)/2]...)          // truncated frame
	wire = append(wire, good...)                        // START resets
	wire = append(wire, StartByte, 0x10, 0x01, EndByte) // short frame

	wire = append(wire, good...)

	msgs, _ := decodeAll(t, wire)
	if len(msgs) != 2 {
		t.Fatalf("decoded %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if n, ok := m.Uint(KeyAckLength); !ok || n != 200 {
			t.Errorf("ack length = %d, %v", n, ok)
		}
	}
}

func TestReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	sent := []*Message{NewStartUpload(0, 0x08000000), NewChunk([]byte("hello")), NewEndUpload()}
	for _, m := range sent {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	r := NewReader(&buf)
	for i, want := range sent {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Errorf("message %d type = %s, want %s", i, got.Type, want.Type)
		}
	}
	if _, err := r.ReadMessage(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	if _, err := Encode(NewChunk(make([]byte, MaxPayloadSize))); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"start upload", NewStartUpload(0, 0x08000000), false},
		{"wrong channel", &Message{Channel: ChannelUpload, Type: MsgEndUpload}, true},
		{"unknown type", &Message{Channel: ChannelControl, Type: 0x7A}, true},
		{"start without address", &Message{Channel: ChannelControl, Type: MsgStartUpload, Fields: map[int]any{KeyFirmwareType: uint64(0)}}, true},
		{"empty chunk", NewChunk(nil), true},
		{"oversized chunk", NewChunk(make([]byte, ChunkSize+1)), true},
		{"ack too long", NewChunkAck(ChunkSize + 1), true},
		{"reboot without status", &Message{Channel: ChannelReboot, Type: MsgReboot}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageString(t *testing.T) {
	tests := []struct {
		msg  *Message
		want string
	}{
		{NewStartUpload(1, 0x08007000), "control/START_UPLOAD type=1 address=0x08007000"},
		{NewChunk([]byte{1, 2, 3}), "upload/CHUNK bytes=3"},
		{NewReboot(RebootNormal), "reboot/REBOOT status=0x01 (normal)"},
		{NewReboot(0x05), "reboot/REBOOT status=0x05 (abnormal)"},
		{NewEndUpload(), "control/END_UPLOAD"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.msg.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
