// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwfile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func readAll(t *testing.T, f *File) ([]byte, int64) {
	t.Helper()
	r, n, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return data, n
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"fw.bin", FormatRaw},
		{"fw.img", FormatContainer},
		{"FW.IMG", FormatContainer},
		{"fw.img.bin", FormatRaw},
		{"firmware", FormatRaw},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestOpen_Raw(t *testing.T) {
	payload := []byte("0123456789abcdef0123")
	f := New(writeFile(t, "app.bin", payload))

	data, n := readAll(t, f)
	if n != int64(len(payload)) {
		t.Errorf("length = %d, want %d", n, len(payload))
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("content = %q, want %q", data, payload)
	}
	if f.Name() != "app.bin" || f.Format() != FormatRaw {
		t.Errorf("Name/Format = %s/%v", f.Name(), f.Format())
	}
}

func TestOpen_Container(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	var buf bytes.Buffer
	if err := WriteContainer(&buf, payload); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0xFF, 0xFF, 0xFF}) // padding
	f := New(writeFile(t, "radio.img", buf.Bytes()))

	data, n := readAll(t, f)
	if n != int64(len(payload)) {
		t.Errorf("logical length = %d, want %d", n, len(payload))
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("content = % X, want % X", data, payload)
	}

	length, err := f.Length()
	if err != nil || length != 7 {
		t.Errorf("Length() = %d, %v", length, err)
	}
}

func TestOpen_TwoIndependentPasses(t *testing.T) {
	payload := bytes.Repeat([]byte{0xA5, 0x5A}, 50)
	f := New(writeFile(t, "app.bin", payload))

	r1, _, err := f.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Close()
	half := make([]byte, 30)
	io.ReadFull(r1, half)

	second, _ := readAll(t, f)
	if !bytes.Equal(second, payload) {
		t.Error("second pass should start at the beginning")
	}

	rest, _ := io.ReadAll(r1)
	if len(rest) != len(payload)-30 {
		t.Errorf("first pass continued at wrong offset: %d bytes left", len(rest))
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		wantErr error
	}{
		{"short header", "x.img", []byte{0x01, 0x00}, ErrShortHeader},
		{"length overflow", "x.img", []byte{0x10, 0x00, 0x00, 0x00, 0x01}, ErrLengthOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(writeFile(t, tt.file, tt.data))
			_, _, err := f.Open()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, _, err := New(filepath.Join(t.TempDir(), "nope.bin")).Open()
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Open error = %v, want not exist", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, _, err := New(t.TempDir()).Open()
		if err == nil {
			t.Error("expected error opening a directory")
		}
	})
}

func TestNew_FileURI(t *testing.T) {
	path := writeFile(t, "app.bin", []byte{1, 2, 3, 4})
	f := New("file://" + path)
	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
	if _, n := readAll(t, f); n != 4 {
		t.Errorf("length = %d", n)
	}
}
