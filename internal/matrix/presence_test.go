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
	"os"
	"path/filepath"
	"testing"
)

func TestPAWriterBitOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pa")

	w, err := NewPAWriter(path, 0, 10, 21)
	if err != nil {
		t.Fatal(err)
	}
	// sample 9 -> byte 1, bit 1 (i/8=1, i%8=1)
	bitvec := make([]byte, vlenOf(10))
	bitvec[1] |= 1 << 1
	if err := w.WriteRow(42, bitvec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	hdr, err := readHeader(br)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Columns != 10 {
		t.Fatalf("Columns = %d, want 10", hdr.Columns)
	}

	row := make([]byte, 8+vlenOf(10))
	if _, err := br.Read(row); err != nil {
		t.Fatal(err)
	}
	if row[8+1]&(1<<1) == 0 {
		t.Fatal("expected bit for sample 9 set in byte 1")
	}
}

func TestPAWriterRejectsWrongVlen(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPAWriter(filepath.Join(dir, "out.pa"), 0, 10, 21)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WriteRow(1, []byte{0x01}); err == nil {
		t.Fatal("expected error for mismatched bitvec width")
	}
}
