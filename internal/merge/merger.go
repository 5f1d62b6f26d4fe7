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

// Package merge implements the k-way sorted merge of per-sample
// (hash, count) streams with abundance filtering, cross-sample
// recurrence filtering, and "save-if-recurrent" rescue.
package merge

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shenwei356/kmmerge/internal/stream"
)

// Row is one merged hash position, carrying each sample's count and
// (optionally) presence bit, plus the bookkeeping needed by a caller to
// decide whether to write it.
type Row struct {
	Hash       uint64
	Counts     []uint32
	Bitvec     []byte // only populated when the Merger was built with populateBitvec
	SolidCount int
	TotalCount int
	Keep       bool
}

// Stats summarizes a completed merge, mirroring the original tool's
// end-of-run counters.
type Stats struct {
	NonSolid    int // rows that failed the recurrence test
	Saved       int // rows rescued by save-if
	Total       int // rows kept as solid (recurrent)
	TotalWSaved int // Total + Saved
}

// Merger drives the N-way merge described in spec §4.2. It owns the
// readers for the duration of the merge.
type Merger struct {
	readers []*stream.Reader
	policy  AbundancePolicy
	minR    int
	saveIf  int
	setBV   bool

	vlen int

	counts []uint32
	bitvec []byte

	stats Stats
	done  bool
	err   error
}

// New validates parameters and constructs a Merger over readers.
// populateBitvec controls whether Row.Bitvec is filled in; encoders that
// only need counts (bin/ascii) can leave it false to skip the packing
// work, per spec §4.2.
func New(readers []*stream.Reader, policy AbundancePolicy, minR, saveIf int, populateBitvec bool) (*Merger, error) {
	if minR < 1 {
		return nil, fmt.Errorf("recurrence-min must be >= 1, got %d", minR)
	}
	if saveIf < 0 {
		return nil, fmt.Errorf("save-if must be >= 0, got %d", saveIf)
	}
	n := len(readers)
	if policy.NumSamples() != n {
		return nil, fmt.Errorf("abundance policy covers %d samples, expected %d", policy.NumSamples(), n)
	}

	vlen := (n + 7) / 8

	return &Merger{
		readers: readers,
		policy:  policy,
		minR:    minR,
		saveIf:  saveIf,
		setBV:   populateBitvec,
		vlen:    vlen,
		counts:  make([]uint32, n),
		bitvec:  make([]byte, vlen),
	}, nil
}

// Next produces the next merged row in ascending hash order. It returns
// false once every reader is exhausted or a fatal error occurred; check
// Err afterwards to distinguish the two.
func (m *Merger) Next() (Row, bool) {
	if m.done {
		return Row{}, false
	}

	// Find the minimum head hash among non-exhausted readers.
	var hStar uint64
	found := false
	for _, r := range m.readers {
		rec, ok := r.Peek()
		if !ok {
			continue
		}
		if !found || rec.Hash < hStar {
			hStar = rec.Hash
			found = true
		}
	}
	if !found {
		m.done = true
		return Row{}, false
	}

	for i := range m.counts {
		m.counts[i] = 0
	}
	for i := range m.bitvec {
		m.bitvec[i] = 0
	}

	var solid, total int
	for i, r := range m.readers {
		rec, ok := r.Peek()
		if !ok || rec.Hash != hStar {
			continue
		}

		m.counts[i] = rec.Count
		total++

		if rec.Count >= m.policy.Threshold(i) {
			solid++
			if m.setBV {
				m.bitvec[i/8] |= 1 << uint(i%8)
			}
		}

		if err := r.Advance(); err != nil {
			m.done = true
			m.err = errors.Wrapf(err, "sample %d", i)
			return Row{}, false
		}
	}

	if solid < 0 || solid > len(m.readers) {
		m.done = true
		m.err = fmt.Errorf("invariant violation: solid_count %d out of range [0,%d]", solid, len(m.readers))
		return Row{}, false
	}

	recurrent := solid >= m.minR
	keep := recurrent
	if !recurrent && m.saveIf > 0 && total >= m.saveIf {
		keep = true
		m.stats.Saved++
	}
	if recurrent {
		m.stats.Total++
	} else {
		m.stats.NonSolid++
	}
	m.stats.TotalWSaved = m.stats.Total + m.stats.Saved

	row := Row{
		Hash:       hStar,
		Counts:     append([]uint32(nil), m.counts...),
		SolidCount: solid,
		TotalCount: total,
		Keep:       keep,
	}
	if m.setBV {
		row.Bitvec = append([]byte(nil), m.bitvec...)
	}

	return row, true
}

// Err returns the fatal error that stopped the merge early, if any.
func (m *Merger) Err() error {
	return m.err
}

// Stats returns the running counters. Valid at any point, final once
// Next has returned false with a nil Err.
func (m *Merger) Stats() Stats {
	return m.stats
}

// VecLen returns ceil(N/8), the packed bit-vector width in bytes.
func (m *Merger) VecLen() int {
	return m.vlen
}
