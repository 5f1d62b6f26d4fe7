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
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// PAWriter emits one packed presence/absence row per kept k-mer: the
// hash followed by ceil(N/8) bytes, bit i set when sample i is solid.
type PAWriter struct {
	f    *os.File
	w    *bufio.Writer
	vlen int
	buf  []byte
}

// NewPAWriter creates path, writes the shared header, and returns a
// writer ready for WriteRow calls. n is the sample count; vlen is
// derived as ceil(n/8).
func NewPAWriter(path string, partitionID, n, k int) (*PAWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating presence/absence matrix %s", path)
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
	vlen := vlenOf(n)
	return &PAWriter{
		f:    f,
		w:    w,
		vlen: vlen,
		buf:  make([]byte, 8+vlen),
	}, nil
}

// WriteRow writes hash followed by bitvec (already packed to vlen
// bytes by the caller, per Merger.VecLen).
func (pw *PAWriter) WriteRow(hash uint64, bitvec []byte) error {
	if len(bitvec) != pw.vlen {
		return fmt.Errorf("bitvec has %d bytes, expected %d", len(bitvec), pw.vlen)
	}
	le64put(pw.buf[0:8], hash)
	copy(pw.buf[8:], bitvec)
	_, err := pw.w.Write(pw.buf)
	return err
}

func (pw *PAWriter) Close() error {
	if err := pw.w.Flush(); err != nil {
		pw.f.Close()
		return err
	}
	return pw.f.Close()
}

func le64put(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
