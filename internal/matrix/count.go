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

package matrix

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// CountWriter emits one row per kept k-mer with all N sample counts.
// Two wire formats share this contract: fixed-width binary and ASCII.
type CountWriter interface {
	WriteRow(hash uint64, counts []uint32) error
	Close() error
}

// binCountWriter writes hash||count[0]||...||count[N-1] as fixed-width
// little-endian integers, after the shared header.
type binCountWriter struct {
	f   *os.File
	w   *bufio.Writer
	n   int
	buf []byte
}

// NewBinCountWriter creates path, writes the shared header, and returns
// a writer ready for WriteRow calls.
func NewBinCountWriter(path string, partitionID, n, k int) (CountWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating count matrix %s", path)
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if err := writeHeader(w, Header{
		PartitionID: uint32(partitionID),
		Columns:     uint32(n),
		K:           uint32(k),
	}); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "writing header of %s", path)
	}
	return &binCountWriter{
		f:   f,
		w:   w,
		n:   n,
		buf: make([]byte, 8+4*n),
	}, nil
}

func (cw *binCountWriter) WriteRow(hash uint64, counts []uint32) error {
	if len(counts) != cw.n {
		return fmt.Errorf("count row has %d columns, expected %d", len(counts), cw.n)
	}
	binary.LittleEndian.PutUint64(cw.buf[0:8], hash)
	off := 8
	for _, c := range counts {
		binary.LittleEndian.PutUint32(cw.buf[off:off+4], c)
		off += 4
	}
	_, err := cw.w.Write(cw.buf)
	return err
}

func (cw *binCountWriter) Close() error {
	if err := cw.w.Flush(); err != nil {
		cw.f.Close()
		return err
	}
	return cw.f.Close()
}

// asciiCountWriter renders key as the textual k-mer, followed by
// space-separated counts and a newline.
type asciiCountWriter struct {
	w *bufio.Writer
	k int
}

// NewASCIICountWriter wraps w (already opened by the caller, plain or
// gzip-compressed via outStream/pgzip) and writes a human-readable
// header line as a comment, matching the teacher's convention of
// '#'-prefixed metadata lines in tabular output. Close only flushes the
// buffer; the caller owns closing w (and, if gzipped, the writer
// beneath it) in the right order.
func NewASCIICountWriter(w io.Writer, partitionID, n, k int) (CountWriter, error) {
	bw := bufio.NewWriterSize(w, 256*1024)
	if _, err := fmt.Fprintf(bw, "# partition=%d n=%d k=%d\n", partitionID, n, k); err != nil {
		return nil, err
	}
	return &asciiCountWriter{w: bw, k: k}, nil
}

func (aw *asciiCountWriter) WriteRow(hash uint64, counts []uint32) error {
	if _, err := aw.w.Write(decodeKmer(hash, aw.k)); err != nil {
		return err
	}
	for _, c := range counts {
		if err := aw.w.WriteByte(' '); err != nil {
			return err
		}
		if _, err := aw.w.WriteString(strconv.FormatUint(uint64(c), 10)); err != nil {
			return err
		}
	}
	return aw.w.WriteByte('\n')
}

func (aw *asciiCountWriter) Close() error {
	return aw.w.Flush()
}

var _ io.Closer = (*binCountWriter)(nil)
