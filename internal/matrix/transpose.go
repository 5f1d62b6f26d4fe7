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
	"io"
	"math/bits"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/clausecker/pospop"
)

// TransposeOptions configures Transpose's memory strategy.
type TransposeOptions struct {
	// MemoryBudget caps the input size eligible for the in-memory mmap
	// path. Above it, Transpose falls back to tiled I/O. Zero selects a
	// 1 GiB default.
	MemoryBudget int64
	// BlockRows is the tile height (in rows) used by the tiled path.
	// Zero selects 4096.
	BlockRows int
}

// Transpose reads the dense bit matrix at inPath (C5's output, W rows
// of vlen = ceil(N/8) bytes) and writes its bit-level transpose to
// outPath: N rows of ceil(W/8) bytes, where output bit (i, j) equals
// input bit (j, i).
func Transpose(inPath, outPath string, opt TransposeOptions) error {
	in, err := os.Open(inPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", inPath)
	}
	defer in.Close()

	hdr, err := readHeader(in)
	if err != nil {
		return errors.Wrapf(err, "reading header of %s", inPath)
	}
	n := int(hdr.Columns)
	vlenIn := vlenOf(n)
	if vlenIn == 0 {
		return fmt.Errorf("%s: zero-width matrix (columns=0)", inPath)
	}

	fi, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", inPath)
	}
	dataSize := fi.Size() - headerSize
	if dataSize < 0 || dataSize%int64(vlenIn) != 0 {
		return fmt.Errorf("%s: truncated dense bit matrix (%d bytes of payload not a multiple of row width %d)", inPath, dataSize, vlenIn)
	}
	w := dataSize / int64(vlenIn)
	vlenOut := vlenOf(int(w))

	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, vlenOut)
	}

	budget := opt.MemoryBudget
	if budget <= 0 {
		budget = 1 << 30
	}

	if dataSize <= budget {
		if err := transposeInMemory(in, dataSize, vlenIn, n, w, out); err != nil {
			return errors.Wrapf(err, "transposing %s (in-memory path)", inPath)
		}
	} else {
		blockRows := opt.BlockRows
		if blockRows <= 0 {
			blockRows = 4096
		}
		if err := transposeTiled(in, dataSize, vlenIn, n, w, blockRows, out); err != nil {
			return errors.Wrapf(err, "transposing %s (tiled path)", inPath)
		}
	}

	if err := verifyTotalPopcount(in, dataSize, vlenIn, out); err != nil {
		return errors.Wrapf(err, "post-transpose verification of %s", inPath)
	}

	return writeTransposed(outPath, hdr.PartitionID, hdr.K, int(w), out)
}

// transposeInMemory mmaps the whole input file and scatters each input
// row's bits into the output columns. Used when the payload fits
// opt.MemoryBudget.
func transposeInMemory(f *os.File, dataSize int64, vlenIn, n int, w int64, out [][]byte) error {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return errors.Wrap(err, "mmap")
	}
	defer m.Unmap()

	data := m[headerSize : headerSize+dataSize]
	for j := int64(0); j < w; j++ {
		row := data[int(j)*vlenIn : int(j)*vlenIn+vlenIn]
		scatterRow(row, n, j, out)
	}
	return nil
}

// transposeTiled processes the input in blockRows-row tiles read with
// plain buffered I/O, bounding resident memory to one tile at a time.
func transposeTiled(f *os.File, dataSize int64, vlenIn, n int, w int64, blockRows int, out [][]byte) error {
	if _, err := f.Seek(headerSize, 0); err != nil {
		return err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	tile := make([]byte, blockRows*vlenIn)
	var j int64
	for j < w {
		rows := blockRows
		if remaining := w - j; int64(rows) > remaining {
			rows = int(remaining)
		}
		buf := tile[:rows*vlenIn]
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		for r := 0; r < rows; r++ {
			row := buf[r*vlenIn : r*vlenIn+vlenIn]
			scatterRow(row, n, j+int64(r), out)
		}
		j += int64(rows)
	}
	return nil
}

// scatterRow sets out[i]'s bit for column j whenever row's bit i is set.
func scatterRow(row []byte, n int, j int64, out [][]byte) {
	for i := 0; i < n; i++ {
		if row[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		out[i][j/8] |= 1 << uint(j%8)
	}
}

// verifyTotalPopcount cross-checks the transpose: the total number of
// set bits must be preserved. It reads the input in 8-row blocks and
// uses pospop.Count8's per-bit-position counts, summed, as the
// reference total — independent of the bit-by-bit scatter above.
func verifyTotalPopcount(f *os.File, dataSize int64, vlenIn int, out [][]byte) error {
	if _, err := f.Seek(headerSize, 0); err != nil {
		return err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	var wantTotal int
	rows := make([][]byte, 8)
	buf := make([]byte, 8*vlenIn)
	remaining := dataSize
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		nFull := (n / int64(vlenIn)) * int64(vlenIn)
		if nFull == 0 {
			// less than one row's worth left over; count directly.
			tail := make([]byte, n)
			if _, err := io.ReadFull(br, tail); err != nil {
				return err
			}
			for _, b := range tail {
				wantTotal += bits.OnesCount8(b)
			}
			remaining -= n
			continue
		}
		chunk := buf[:nFull]
		if _, err := io.ReadFull(br, chunk); err != nil {
			return err
		}
		nRows := int(nFull / int64(vlenIn))
		for r := 0; r < nRows; r += 8 {
			k := nRows - r
			if k > 8 {
				k = 8
			}
			for i := 0; i < k; i++ {
				rows[i] = chunk[(r+i)*vlenIn : (r+i+1)*vlenIn]
			}
			if k == 8 {
				var counts [8]int
				pospop.Count8(&counts, rows[0], rows[1], rows[2], rows[3], rows[4], rows[5], rows[6], rows[7])
				for _, c := range counts {
					wantTotal += c
				}
			} else {
				for i := 0; i < k; i++ {
					for _, b := range rows[i] {
						wantTotal += bits.OnesCount8(b)
					}
				}
			}
		}
		remaining -= nFull
	}

	var gotTotal int
	for _, r := range out {
		for _, b := range r {
			gotTotal += bits.OnesCount8(b)
		}
	}
	if gotTotal != wantTotal {
		return fmt.Errorf("transpose lost bits: input popcount %d, output popcount %d", wantTotal, gotTotal)
	}
	return nil
}

func writeTransposed(outPath string, partitionID, k uint32, w int, out [][]byte) error {
	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	bw := bufio.NewWriterSize(f, 256*1024)
	if err := writeHeader(bw, Header{
		PartitionID: partitionID,
		Columns:     uint32(w),
		K:           k,
	}); err != nil {
		f.Close()
		return err
	}
	for _, row := range out {
		if _, err := bw.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

