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

package stream

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSample(t *testing.T, dir, name string, header int, recs []Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if header > 0 {
		if _, err := f.Write(make([]byte, header)); err != nil {
			t.Fatal(err)
		}
	}
	for _, r := range recs {
		var buf [recordSize]byte
		putLE64(buf[0:8], r.Hash)
		putLE32(buf[8:12], r.Count)
		if _, err := f.Write(buf[:]); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestReaderPeekAdvance(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "s0.bin", 0, []Record{
		{Hash: 5, Count: 2},
		{Hash: 9, Count: 1},
	})

	r, err := Open(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rec, ok := r.Peek()
	if !ok || rec.Hash != 5 || rec.Count != 2 {
		t.Fatalf("unexpected first record: %+v ok=%v", rec, ok)
	}
	if err := r.Advance(); err != nil {
		t.Fatal(err)
	}

	rec, ok = r.Peek()
	if !ok || rec.Hash != 9 || rec.Count != 1 {
		t.Fatalf("unexpected second record: %+v ok=%v", rec, ok)
	}
	if err := r.Advance(); err != nil {
		t.Fatal(err)
	}

	if !r.EOF() {
		t.Fatal("expected EOF")
	}
}

func TestReaderHeaderSkip(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "s0.bin", 16, []Record{{Hash: 3, Count: 7}})

	r, err := Open(path, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rec, ok := r.Peek()
	if !ok || rec.Hash != 3 || rec.Count != 7 {
		t.Fatalf("header skip failed: %+v ok=%v", rec, ok)
	}
}

func TestReaderEmptyStream(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "empty.bin", 0, nil)

	r, err := Open(path, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.EOF() {
		t.Fatal("expected empty sample to be at EOF immediately")
	}
}

func TestReaderOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, "bad.bin", 0, []Record{
		{Hash: 9, Count: 1},
		{Hash: 5, Count: 2},
	})

	r, err := Open(path, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	err = r.Advance()
	if err == nil {
		t.Fatal("expected order error")
	}
	oe, ok := err.(*OrderError)
	if !ok {
		t.Fatalf("expected *OrderError, got %T: %v", err, err)
	}
	if oe.Sample != 2 {
		t.Fatalf("expected sample 2 in error, got %d", oe.Sample)
	}
}
