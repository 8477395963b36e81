// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stm32crc computes the CRC-32 produced by the STM32 hardware CRC unit.
//
// The STM32 peripheral uses the Ethernet polynomial but shifts MSB first,
// starts from 0xFFFFFFFF, applies no reflection and no final XOR, and is fed
// one 32-bit word at a time. Words are read from the byte stream in
// little-endian order, the way the MCU reads them from flash. The result is
// therefore NOT the zlib/IEEE CRC-32 computed by hash/crc32.
package stm32crc

import (
	"encoding/binary"
	"hash"
)

// Size of a checksum in bytes.
const Size = 4

// WordSize is the number of bytes folded into the CRC per step.
const WordSize = 4

const (
	polynomial = 0x04C11DB7
	initial    = 0xFFFFFFFF
)

var table = makeTable()

// makeTable builds the MSB-first lookup table for one byte of shift.
func makeTable() *[256]uint32 {
	t := new([256]uint32)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ polynomial
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Digest is a streaming STM32 CRC accumulator.
//
// Bytes written to a Digest are folded in whole 4-byte words. A trailing
// partial word is held back and never contributes to Sum32, so writing a
// file of S bytes folds exactly S/4 words.
type Digest struct {
	crc     uint32
	pending [WordSize]byte
	npend   int
	words   int64
}

var _ hash.Hash32 = (*Digest)(nil)

// New returns a Digest in its initial state.
func New() *Digest {
	return &Digest{crc: initial}
}

// Reset restores the initial state.
func (d *Digest) Reset() {
	d.crc = initial
	d.npend = 0
	d.words = 0
}

// Size returns the number of bytes Sum appends.
func (d *Digest) Size() int { return Size }

// BlockSize returns the word size.
func (d *Digest) BlockSize() int { return WordSize }

// UpdateWord folds one 32-bit word into the checksum.
func (d *Digest) UpdateWord(word uint32) {
	crc := d.crc ^ word
	for i := 0; i < 4; i++ {
		crc = (crc << 8) ^ table[byte(crc>>24)]
	}
	d.crc = crc
	d.words++
}

// Write folds p into the checksum. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	n := len(p)

	if d.npend > 0 {
		k := copy(d.pending[d.npend:], p)
		d.npend += k
		p = p[k:]
		if d.npend < WordSize {
			return n, nil
		}
		d.UpdateWord(binary.LittleEndian.Uint32(d.pending[:]))
		d.npend = 0
	}

	for len(p) >= WordSize {
		d.UpdateWord(binary.LittleEndian.Uint32(p))
		p = p[WordSize:]
	}

	d.npend = copy(d.pending[:], p)
	return n, nil
}

// Sum32 returns the checksum of all whole words written so far.
func (d *Digest) Sum32() uint32 {
	return d.crc
}

// Sum appends the big-endian checksum to b, following the hash.Hash convention.
func (d *Digest) Sum(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, d.crc)
}

// Words returns the number of words folded so far.
func (d *Digest) Words() int64 {
	return d.words
}

// Pending returns the number of trailing bytes that are not part of the checksum.
func (d *Digest) Pending() int {
	return d.npend
}

// Checksum returns the STM32 CRC of data, ignoring any trailing partial word.
func Checksum(data []byte) uint32 {
	d := New()
	d.Write(data)
	return d.Sum32()
}
