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

// Package hashwindow decodes the hash-window table: one [lower, upper]
// hash bound per partition, shared by every merger invocation over
// that partition.
package hashwindow

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Window is the inclusive hash bound for one partition.
type Window struct {
	Lower uint64
	Upper uint64
}

// Table holds every partition's window, indexed by partition id.
type Table struct {
	windows []Window
}

// Load reads the hash-window file: u32 nb_parts followed by nb_parts
// records of (u64 lower, u64 upper), little-endian.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening hash-window file %s", path)
	}
	defer f.Close()

	var nbHeader [4]byte
	if _, err := io.ReadFull(f, nbHeader[:]); err != nil {
		return nil, errors.Wrapf(err, "reading partition count from %s", path)
	}
	nbParts := binary.LittleEndian.Uint32(nbHeader[:])

	windows := make([]Window, nbParts)
	var rec [16]byte
	for i := range windows {
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			return nil, errors.Wrapf(err, "reading window record %d of %d from %s", i, nbParts, path)
		}
		windows[i] = Window{
			Lower: binary.LittleEndian.Uint64(rec[0:8]),
			Upper: binary.LittleEndian.Uint64(rec[8:16]),
		}
	}

	return &Table{windows: windows}, nil
}

// NumPartitions returns nb_parts.
func (t *Table) NumPartitions() int {
	return len(t.windows)
}

// Window returns the window for partID, validating it against the
// table's bounds.
func (t *Table) Window(partID int) (Window, error) {
	if partID < 0 || partID >= len(t.windows) {
		return Window{}, fmt.Errorf("partition id %d out of range [0,%d)", partID, len(t.windows))
	}
	w := t.windows[partID]
	if w.Upper < w.Lower {
		return Window{}, fmt.Errorf("partition %d has an empty/invalid window [%d,%d]", partID, w.Lower, w.Upper)
	}
	return w, nil
}

// Contains reports whether hash falls within w, per the hash-window
// invariant every input stream must satisfy.
func (w Window) Contains(hash uint64) bool {
	return hash >= w.Lower && hash <= w.Upper
}

// Size returns W = upper - lower + 1, the row count C5 must emit.
func (w Window) Size() uint64 {
	return w.Upper - w.Lower + 1
}
