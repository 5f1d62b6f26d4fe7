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
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// BFWriter is the hash-indexed dense bit-matrix encoder (C5). Unlike
// CountWriter/PAWriter it is not driven row-by-row from arbitrary kept
// hashes: it is driven by Observe, called once per merged row in
// ascending hash order (kept or not), and walks a cursor across the
// partition's full hash window so every hash position gets a row,
// gaps included.
type BFWriter struct {
	f    *os.File
	w    *bufio.Writer
	vlen int

	lower, upper uint64
	current      uint64
	zero         []byte

	bar *mpb.Bar
	p   *mpb.Progress
}

// NewBFWriter creates path, writes the shared header (Columns = N,
// Reserved unused), and returns a writer primed at the window's lower
// bound. When showProgress is set, encoding reports progress across
// [lower, upper] on an mpb bar, since a partition's window can span
// hundreds of millions of hash slots.
func NewBFWriter(path string, partitionID int, lower, upper uint64, n int, showProgress bool) (*BFWriter, error) {
	if upper < lower {
		return nil, fmt.Errorf("hash window is empty: lower=%d upper=%d", lower, upper)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating dense bit matrix %s", path)
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if err := writeHeader(w, Header{
		PartitionID: uint32(partitionID),
		Columns:     uint32(n),
	}); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "writing header of %s", path)
	}

	vlen := vlenOf(n)
	bw := &BFWriter{
		f:       f,
		w:       w,
		vlen:    vlen,
		lower:   lower,
		upper:   upper,
		current: lower,
		zero:    make([]byte, vlen),
	}

	if showProgress {
		bw.p = mpb.New(mpb.WithWidth(64))
		total := int64(upper-lower) + 1
		bw.bar = bw.p.AddBar(total,
			mpb.PrependDecorators(decor.Name("bf encode")),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	return bw, nil
}

// fillThrough writes zero rows while current <= target.
func (bw *BFWriter) fillThrough(target uint64) error {
	for bw.current <= target {
		if _, err := bw.w.Write(bw.zero); err != nil {
			return err
		}
		if bw.bar != nil {
			bw.bar.Increment()
		}
		bw.current++
	}
	return nil
}

// Observe consumes one merged row (in ascending hash order), filling
// zero rows for any gap before it, then writing its own row: the
// packed bitvec when keep is true, a zero row otherwise (the hash
// position exists in the window either way).
func (bw *BFWriter) Observe(hash uint64, keep bool, bitvec []byte) error {
	if hash < bw.lower || hash > bw.upper {
		return fmt.Errorf("hash %d outside partition window [%d,%d]", hash, bw.lower, bw.upper)
	}
	if hash > 0 && bw.current < hash {
		if err := bw.fillThrough(hash - 1); err != nil {
			return err
		}
	}

	if keep {
		if len(bitvec) != bw.vlen {
			return fmt.Errorf("bitvec has %d bytes, expected %d", len(bitvec), bw.vlen)
		}
		if _, err := bw.w.Write(bitvec); err != nil {
			return err
		}
	} else {
		if _, err := bw.w.Write(bw.zero); err != nil {
			return err
		}
	}
	if bw.bar != nil {
		bw.bar.Increment()
	}
	bw.current = hash + 1
	return nil
}

// Finish fills any remaining gap rows up to and including upper, then
// flushes and closes the file. Total rows written equals W =
// upper-lower+1, per spec.md §4.5's post-condition.
func (bw *BFWriter) Finish() error {
	if err := bw.fillThrough(bw.upper); err != nil {
		bw.f.Close()
		return err
	}
	if bw.p != nil {
		bw.p.Wait()
	}
	if err := bw.w.Flush(); err != nil {
		bw.f.Close()
		return err
	}
	return bw.f.Close()
}

// Rows reports W, the total row count this writer will emit.
func (bw *BFWriter) Rows() uint64 {
	return bw.upper - bw.lower + 1
}
