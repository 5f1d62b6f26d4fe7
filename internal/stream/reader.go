// Copyright © 2020 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package stream decodes one sample's sorted (hash, count) records from
// the fixed binary layout produced by the upstream counting stage.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Record is a single (hash, count) pair read from a sample file.
type Record struct {
	Hash  uint64
	Count uint32
}

// recordSize is the on-disk width of one Record: 8 bytes of hash plus
// 4 bytes of count, little-endian, no padding.
const recordSize = 8 + 4

// Reader is a forward-only, single-record-lookahead cursor over one
// sample's sorted stream. It owns the underlying file handle for the
// duration of a merge; Close releases it on every exit path.
//
// Readers never seek: records arrive once, in ascending hash order, and
// are consumed exactly once via Advance.
type Reader struct {
	sample int // index in the file-of-files, used only for error messages
	path   string

	f  *os.File
	br *bufio.Reader

	buf [recordSize]byte

	cur    Record
	hasCur bool
	atEOF  bool

	lastHash uint64
	haveLast bool
	closed   bool
}

// OrderError reports a sample whose records are not strictly ascending
// by hash, which the merger treats as fatal.
type OrderError struct {
	Sample   int
	Path     string
	Previous uint64
	Got      uint64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("sample %d (%s): hash out of order: %d after %d", e.Sample, e.Path, e.Got, e.Previous)
}

// Open opens path, skips headerSize bytes, and returns a Reader
// positioned at the first record. sample is recorded purely for
// diagnostics, matching the "abort with sample index" requirement.
func Open(path string, sample int, headerSize int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sample %d", sample)
	}

	if headerSize > 0 {
		if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "skipping header of sample %d (%s)", sample, path)
		}
	}

	r := &Reader{
		sample: sample,
		path:   path,
		f:      f,
		br:     bufio.NewReaderSize(f, 64*1024),
	}
	if err := r.fill(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// fill reads the next record from disk into r.cur, or marks EOF.
func (r *Reader) fill() error {
	_, err := io.ReadFull(r.br, r.buf[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			r.atEOF = true
			r.hasCur = false
			return nil
		}
		return errors.Wrapf(err, "reading sample %d (%s)", r.sample, r.path)
	}

	h := le64(r.buf[0:8])
	c := le32(r.buf[8:12])

	if r.haveLast && h <= r.lastHash {
		return &OrderError{Sample: r.sample, Path: r.path, Previous: r.lastHash, Got: h}
	}
	r.lastHash = h
	r.haveLast = true

	r.cur = Record{Hash: h, Count: c}
	r.hasCur = true
	return nil
}

// Peek returns the next record without consuming it. ok is false once
// the stream is exhausted.
func (r *Reader) Peek() (rec Record, ok bool) {
	return r.cur, r.hasCur
}

// EOF reports whether the stream is exhausted.
func (r *Reader) EOF() bool {
	return !r.hasCur
}

// Advance consumes the peeked record and pulls in the next one.
func (r *Reader) Advance() error {
	if !r.hasCur {
		return nil
	}
	return r.fill()
}

// Sample returns the reader's file-of-files index.
func (r *Reader) Sample() int {
	return r.sample
}

// Path returns the reader's source path.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the underlying file handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
