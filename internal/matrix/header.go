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

// Package matrix implements the four output encoders that consume the
// merged row stream produced by internal/merge: a dense count matrix
// (binary and ASCII), a presence/absence bit matrix, a hash-indexed
// dense bit matrix with gap filling, and its bit-level transpose.
//
// All formats share one fixed-size binary header, little-endian,
// matching spec §6: {partition_id, column-count, k, reserved}.
package matrix

import (
	"encoding/binary"
	"fmt"
	"io"
)

// headerSize is the on-disk width of the shared header: four uint32
// fields, no padding.
const headerSize = 4 * 4

// Header is the common prefix of every matrix file this package writes.
type Header struct {
	PartitionID uint32
	Columns     uint32 // N for count/pa/bf matrices, W for the transposed bit matrix
	K           uint32
	Reserved    uint32
}

func writeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.PartitionID)
	binary.LittleEndian.PutUint32(buf[4:8], h.Columns)
	binary.LittleEndian.PutUint32(buf[8:12], h.K)
	binary.LittleEndian.PutUint32(buf[12:16], h.Reserved)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("reading matrix header: %w", err)
	}
	return Header{
		PartitionID: binary.LittleEndian.Uint32(buf[0:4]),
		Columns:     binary.LittleEndian.Uint32(buf[4:8]),
		K:           binary.LittleEndian.Uint32(buf[8:12]),
		Reserved:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

func vlenOf(n int) int {
	return (n + 7) / 8
}
