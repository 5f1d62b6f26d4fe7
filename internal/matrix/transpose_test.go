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

func writeBitMatrix(t *testing.T, path string, partitionID, columns, k uint32, rows [][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := writeHeader(bw, Header{PartitionID: partitionID, Columns: columns, K: k}); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if _, err := bw.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
}

func readBitMatrix(t *testing.T, path string) (Header, []byte) {
	t.Helper()
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
	var payload []byte
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		payload = append(payload, buf[:n]...)
		if err != nil {
			break
		}
	}
	return hdr, payload
}

// TestTransposeScenario6 exercises spec scenario 6: a 4x2 (rows x
// samples) bit matrix with bits {(0,0),(1,1),(3,0)} set transposes to
// a 2x4 matrix with bits {(0,0),(0,3),(1,1)} set.
func TestTransposeScenario6(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bf")
	out := filepath.Join(dir, "out.bf")

	rows := [][]byte{
		{0x01}, // row 0: bit 0 set
		{0x02}, // row 1: bit 1 set
		{0x00}, // row 2: empty
		{0x01}, // row 3: bit 0 set
	}
	writeBitMatrix(t, in, 7, 2, 21, rows)

	if err := Transpose(in, out, TransposeOptions{}); err != nil {
		t.Fatal(err)
	}

	hdr, payload := readBitMatrix(t, out)
	if hdr.Columns != 4 {
		t.Fatalf("output Columns = %d, want 4 (W)", hdr.Columns)
	}
	if hdr.PartitionID != 7 || hdr.K != 21 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 output rows (N=2), got %d bytes", len(payload))
	}

	// row 0 (sample 0): bits 0 and 3 set -> 0b00001001 = 0x09
	if payload[0] != 0x09 {
		t.Fatalf("output row 0 = %#x, want 0x09", payload[0])
	}
	// row 1 (sample 1): bit 1 set -> 0x02
	if payload[1] != 0x02 {
		t.Fatalf("output row 1 = %#x, want 0x02", payload[1])
	}
}

// TestTransposeIsInvolution exercises invariant 6:
// transpose(transpose(M)) = M.
func TestTransposeIsInvolution(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bf")
	mid := filepath.Join(dir, "mid.bf")
	back := filepath.Join(dir, "back.bf")

	rows := [][]byte{
		{0x01},
		{0x02},
		{0x00},
		{0x01},
	}
	writeBitMatrix(t, in, 0, 2, 21, rows)

	if err := Transpose(in, mid, TransposeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := Transpose(mid, back, TransposeOptions{}); err != nil {
		t.Fatal(err)
	}

	hdr, payload := readBitMatrix(t, back)
	if hdr.Columns != 2 {
		t.Fatalf("round-tripped Columns = %d, want 2", hdr.Columns)
	}
	wantPayload := []byte{0x01, 0x02, 0x00, 0x01}
	if len(payload) != len(wantPayload) {
		t.Fatalf("round-tripped payload has %d bytes, want %d", len(payload), len(wantPayload))
	}
	for i, b := range payload {
		if b != wantPayload[i] {
			t.Fatalf("row %d = %#x, want %#x", i, b, wantPayload[i])
		}
	}
}

// TestTransposeTiledPathMatchesInMemory exercises the tiled fallback
// with a tiny BlockRows/MemoryBudget so it runs without a large fixture.
func TestTransposeTiledPathMatchesInMemory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bf")
	outMem := filepath.Join(dir, "out_mem.bf")
	outTiled := filepath.Join(dir, "out_tiled.bf")

	rows := [][]byte{{0x01}, {0x02}, {0x00}, {0x01}}
	writeBitMatrix(t, in, 0, 2, 21, rows)

	if err := Transpose(in, outMem, TransposeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := Transpose(in, outTiled, TransposeOptions{MemoryBudget: 1, BlockRows: 1}); err != nil {
		t.Fatal(err)
	}

	_, memPayload := readBitMatrix(t, outMem)
	_, tiledPayload := readBitMatrix(t, outTiled)
	if len(memPayload) != len(tiledPayload) {
		t.Fatalf("payload length mismatch: mem=%d tiled=%d", len(memPayload), len(tiledPayload))
	}
	for i := range memPayload {
		if memPayload[i] != tiledPayload[i] {
			t.Fatalf("byte %d differs: mem=%#x tiled=%#x", i, memPayload[i], tiledPayload[i])
		}
	}
}
