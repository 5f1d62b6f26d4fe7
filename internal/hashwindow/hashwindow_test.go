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

package hashwindow

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeTable(t *testing.T, path string, windows []Window) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], uint32(len(windows)))
	if _, err := f.Write(nb[:]); err != nil {
		t.Fatal(err)
	}
	for _, w := range windows {
		var rec [16]byte
		binary.LittleEndian.PutUint64(rec[0:8], w.Lower)
		binary.LittleEndian.PutUint64(rec[8:16], w.Upper)
		if _, err := f.Write(rec[:]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadAndWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hash_windows.bin")
	writeTable(t, path, []Window{
		{Lower: 0, Upper: 99},
		{Lower: 100, Upper: 199},
	})

	table, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if table.NumPartitions() != 2 {
		t.Fatalf("NumPartitions = %d, want 2", table.NumPartitions())
	}

	w, err := table.Window(1)
	if err != nil {
		t.Fatal(err)
	}
	if w.Lower != 100 || w.Upper != 199 {
		t.Fatalf("window = %+v", w)
	}
	if w.Size() != 100 {
		t.Fatalf("Size() = %d, want 100", w.Size())
	}
	if !w.Contains(150) || w.Contains(99) {
		t.Fatal("Contains gave wrong result")
	}
}

func TestWindowOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hash_windows.bin")
	writeTable(t, path, []Window{{Lower: 0, Upper: 9}})

	table, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := table.Window(5); err == nil {
		t.Fatal("expected error for out-of-range partition id")
	}
}
