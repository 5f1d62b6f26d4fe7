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

package merge

import "fmt"

// AbundancePolicy resolves the abundance threshold a sample's count must
// meet or exceed for a k-mer to be considered solid in that sample.
type AbundancePolicy interface {
	// Threshold returns the minimum count for sample i to be solid.
	Threshold(sample int) uint32
	// NumSamples returns the number of samples the policy was built for.
	NumSamples() int
}

// UniformAbundance applies the same threshold to every sample.
type UniformAbundance struct {
	Min uint32
	N   int
}

// NewUniformAbundance builds a policy sharing one threshold across n samples.
func NewUniformAbundance(min uint32, n int) UniformAbundance {
	return UniformAbundance{Min: min, N: n}
}

func (u UniformAbundance) Threshold(sample int) uint32 { return u.Min }
func (u UniformAbundance) NumSamples() int             { return u.N }

// PerSampleAbundance applies a distinct threshold per sample, loaded from
// a file of one integer per line in file-of-files order.
type PerSampleAbundance struct {
	Min []uint32
}

// NewPerSampleAbundance validates that min has exactly n entries.
func NewPerSampleAbundance(min []uint32, n int) (PerSampleAbundance, error) {
	if len(min) != n {
		return PerSampleAbundance{}, fmt.Errorf("per-sample abundance vector has %d entries, expected %d", len(min), n)
	}
	return PerSampleAbundance{Min: min}, nil
}

func (p PerSampleAbundance) Threshold(sample int) uint32 { return p.Min[sample] }
func (p PerSampleAbundance) NumSamples() int             { return len(p.Min) }
