// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fwfile opens firmware images for upload.
//
// Two on-disk formats are supported:
//
//   - raw binaries (any extension other than .img): the logical content is
//     the whole file.
//   - length-prefixed containers (.img): a 4-byte little-endian header holds
//     the payload length, followed by the payload. Bytes after the payload are
//     padding and are never exposed.
//
// Each call to Open returns an independent stream positioned at the start of
// the logical content, so the same image can be read once for the checksum
// and once more for transmission.
package fwfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies the on-disk layout of an image.
type Format int

const (
	FormatRaw Format = iota
	FormatContainer
)

// ContainerExt is the file extension of length-prefixed containers.
const ContainerExt = ".img"

// HeaderSize is the size of the container length header.
const HeaderSize = 4

var (
	ErrNotRegular     = errors.New("not a regular file")
	ErrShortHeader    = errors.New("container header truncated")
	ErrLengthOverflow = errors.New("container length exceeds file size")
)

// String returns a short name for the format.
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatContainer:
		return "img"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// File is a firmware image descriptor. It holds no open handles.
type File struct {
	path   string
	format Format
}

// New returns a descriptor for the image at path. The path may also be a
// file:// URI. Nothing is opened until Open is called.
func New(path string) *File {
	if u, err := url.Parse(path); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	return &File{
		path:   path,
		format: DetectFormat(path),
	}
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ContainerExt) {
		return FormatContainer
	}
	return FormatRaw
}

// Name returns the image file name.
func (f *File) Name() string {
	return filepath.Base(f.path)
}

// Path returns the image path.
func (f *File) Path() string {
	return f.path
}

// Format returns the detected on-disk format.
func (f *File) Format() Format {
	return f.format
}

// Open returns a fresh stream over the logical content and its length.
func (f *File) Open() (io.ReadCloser, int64, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, 0, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, 0, fmt.Errorf("%s: %w", f.path, ErrNotRegular)
	}

	if f.format == FormatRaw {
		return file, info.Size(), nil
	}

	length, err := readHeader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("%s: %w", f.path, err)
	}

	return &containerReader{
		Reader: io.LimitReader(file, length),
		file:   file,
	}, length, nil
}

// Length opens the image to report its logical length.
func (f *File) Length() (int64, error) {
	r, n, err := f.Open()
	if err != nil {
		return 0, err
	}
	r.Close()
	return n, nil
}

// readHeader validates the container header and returns the payload length.
func readHeader(r io.Reader, fileSize int64) (int64, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrShortHeader
		}
		return 0, err
	}

	length := int64(binary.LittleEndian.Uint32(header[:]))
	if length > fileSize-HeaderSize {
		return 0, fmt.Errorf("%w: header says %d, payload has %d", ErrLengthOverflow, length, fileSize-HeaderSize)
	}
	return length, nil
}

// containerReader exposes only the payload of a container.
type containerReader struct {
	io.Reader
	file *os.File
}

func (c *containerReader) Close() error {
	return c.file.Close()
}

// WriteContainer writes payload to w in container format.
func WriteContainer(w io.Writer, payload []byte) error {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
