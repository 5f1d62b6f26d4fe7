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

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/shenwei356/util/bytesize"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/shenwei356/kmmerge/internal/hashwindow"
	"github.com/shenwei356/kmmerge/internal/matrix"
	"github.com/shenwei356/kmmerge/internal/merge"
	"github.com/shenwei356/kmmerge/internal/runlayout"
	"github.com/shenwei356/kmmerge/internal/stream"
)

func init() {
	RootCmd.Flags().StringP("run-dir", "d", "", "run directory (see internal/runlayout for the expected subtree)")
	RootCmd.Flags().IntP("part-id", "p", -1, "partition index, in [0, P)")
	RootCmd.Flags().IntP("kmer-size", "k", 0, "k")
	RootCmd.Flags().StringP("abundance-min", "a", "1", "minimum per-sample abundance: an integer, or a path to a file with one integer per sample")
	RootCmd.Flags().IntP("recurrence-min", "r", 1, "minimum number of samples a k-mer must be solid in to be kept")
	RootCmd.Flags().IntP("save-if", "s", 0, "rescue a non-solid k-mer if it appears in at least this many samples (0 disables rescue)")
	RootCmd.Flags().StringP("mode", "m", "", "one of: ascii, bin, pa, bf, bf_trp")
	RootCmd.Flags().Int64P("header-size", "", 0, "bytes to skip at the start of each input stream")
	RootCmd.Flags().Int64P("memory-budget", "", 1<<30, "byte budget for the in-memory transpose path (C6)")

	_ = RootCmd.MarkFlagRequired("run-dir")
	_ = RootCmd.MarkFlagRequired("part-id")
	_ = RootCmd.MarkFlagRequired("kmer-size")
	_ = RootCmd.MarkFlagRequired("abundance-min")
	_ = RootCmd.MarkFlagRequired("recurrence-min")
	_ = RootCmd.MarkFlagRequired("mode")
}

// mergeStats is the yaml summary written alongside the matrix output,
// letting the orchestrator pick up counters without scraping logs.
type mergeStats struct {
	PartitionID int    `yaml:"partition_id"`
	Mode        string `yaml:"mode"`
	Samples     int    `yaml:"samples"`
	NonSolid    int    `yaml:"non_solid"`
	Saved       int    `yaml:"saved"`
	Total       int    `yaml:"total"`
	TotalWSaved int    `yaml:"total_w_saved"`
	FofDigest   string `yaml:"fof_digest"`
}

func runMerge(cmd *cobra.Command, args []string) {
	opt := getOptions(cmd)
	runtime.GOMAXPROCS(opt.NumCPUs)

	if cpuProfile := getFlagString(cmd, "cpu-profile"); cpuProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cpuProfile)).Stop()
	}
	if memProfile := getFlagString(cmd, "mem-profile"); memProfile != "" {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(memProfile)).Stop()
	}

	if opt.Log2File {
		fhLog := addLog(opt.LogFile, opt.Verbose)
		defer fhLog.Close()
	}

	timeStart := time.Now()
	defer func() {
		if opt.Verbose {
			log.Infof("elapsed time: %s", time.Since(timeStart))
		}
	}()

	runDir := getFlagString(cmd, "run-dir")
	partID := getFlagInt(cmd, "part-id")
	k := getFlagPositiveInt(cmd, "kmer-size")
	abundanceArg := getFlagString(cmd, "abundance-min")
	minR := getFlagPositiveInt(cmd, "recurrence-min")
	saveIf := getFlagNonNegativeInt(cmd, "save-if")
	mode := getFlagString(cmd, "mode")
	headerSize, err := cmd.Flags().GetInt64("header-size")
	checkError(errors.Wrap(err, "flag --header-size"))
	memBudget, err := cmd.Flags().GetInt64("memory-budget")
	checkError(errors.Wrap(err, "flag --memory-budget"))

	switch mode {
	case "ascii", "bin", "pa", "bf", "bf_trp":
	default:
		checkError(fmt.Errorf("invalid --mode %q: must be one of ascii, bin, pa, bf, bf_trp", mode))
	}

	layout, err := runlayout.Resolve(runDir, partID)
	checkError(errors.Wrap(err, "resolving run directory"))
	checkError(layout.EnsureMatrixDir())

	if ok, err := pathutil.Exists(layout.HashWindowBin); err != nil {
		checkError(errors.Wrapf(err, "checking hash-window file %s", layout.HashWindowBin))
	} else if !ok {
		checkError(fmt.Errorf("hash-window file not found: %s", layout.HashWindowBin))
	}
	if ok, err := pathutil.Exists(layout.PartitionFof); err != nil {
		checkError(errors.Wrapf(err, "checking file-of-files %s", layout.PartitionFof))
	} else if !ok {
		checkError(fmt.Errorf("file-of-files not found: %s", layout.PartitionFof))
	}

	table, err := hashwindow.Load(layout.HashWindowBin)
	checkError(errors.Wrap(err, "loading hash-window file"))
	window, err := table.Window(partID)
	checkError(errors.Wrapf(err, "resolving window for partition %d", partID))

	if opt.Verbose {
		log.Infof("kmmerge v%s", VERSION)
		log.Infof("partition: %d, window: [%d, %d]", partID, window.Lower, window.Upper)
		log.Infof("fof: %s", layout.PartitionFof)
	}

	paths, err := readFof(layout.PartitionFof)
	checkError(errors.Wrapf(err, "reading file-of-files %s", layout.PartitionFof))
	n := len(paths)
	if n == 0 {
		checkError(fmt.Errorf("file-of-files %s lists no samples", layout.PartitionFof))
	}

	policy, err := buildAbundancePolicy(abundanceArg, n)
	checkError(errors.Wrap(err, "building abundance policy"))

	readers := make([]*stream.Reader, 0, n)
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for i, p := range paths {
		r, err := stream.Open(p, i, headerSize)
		checkError(errors.Wrapf(err, "opening sample %d (%s)", i, p))
		readers = append(readers, r)
	}

	needsBitvec := mode == "pa" || mode == "bf" || mode == "bf_trp"
	m, err := merge.New(readers, policy, minR, saveIf, needsBitvec)
	checkError(err)

	if opt.Verbose && (mode == "bf" || mode == "bf_trp") {
		log.Infof("dense bit-matrix transpose memory budget: %s", bytesize.ByteSize(memBudget))
	}

	outBase := filepath.Join(layout.MatrixDir, fmt.Sprintf("partition%d", partID))
	stats := runEncoder(mode, outBase, partID, n, k, window, memBudget, m, opt)
	checkError(m.Err())

	if opt.Verbose {
		log.Infof("non_solid=%d saved=%d total=%d total_w_saved=%d",
			stats.NonSolid, stats.Saved, stats.Total, stats.TotalWSaved)
	}

	digest, err := fofDigest(paths)
	checkError(err)

	summary := mergeStats{
		PartitionID: partID,
		Mode:        mode,
		Samples:     n,
		NonSolid:    stats.NonSolid,
		Saved:       stats.Saved,
		Total:       stats.Total,
		TotalWSaved: stats.TotalWSaved,
		FofDigest:   digest,
	}
	checkError(writeStatsFile(outBase+".merge-stats.yml", summary, opt.GzipOutput, opt.CompressionLevel))

	if opt.Verbose {
		if fi, err := os.Stat(outBase + outputExtension(mode, opt.GzipOutput)); err == nil {
			log.Infof("output size: %s", bytesize.ByteSize(fi.Size()))
		}
	}
}

// outputExtension maps mode to the primary output file's suffix (for
// bf_trp this is the transposed file, the one downstream consumers
// actually read). Only the ascii encoder's output is ever gzipped; the
// binary matrix payloads (bin/pa/bf/bf_trp) never are.
func outputExtension(mode string, gzipOut bool) string {
	switch mode {
	case "bin":
		return ".bin"
	case "ascii":
		if gzipOut {
			return ".ascii.gz"
		}
		return ".ascii"
	case "pa":
		return ".pa"
	case "bf":
		return ".bf"
	case "bf_trp":
		return ".bf.trp"
	default:
		return ""
	}
}

// runEncoder dispatches the merged row stream to exactly one encoder,
// returning the merge's final counters.
func runEncoder(mode, outBase string, partID, n, k int, window hashwindow.Window, memBudget int64, m *merge.Merger, opt Options) merge.Stats {
	switch mode {
	case "bin":
		w, err := matrix.NewBinCountWriter(outBase+".bin", partID, n, k)
		checkError(err)
		for {
			row, ok := m.Next()
			if !ok {
				break
			}
			if row.Keep {
				checkError(w.WriteRow(row.Hash, row.Counts))
			}
		}
		checkError(w.Close())

	case "ascii":
		asciiPath := outBase + outputExtension("ascii", opt.GzipOutput)
		f, gw, out, err := outStream(asciiPath, opt.GzipOutput, opt.CompressionLevel)
		checkError(err)
		w, err := matrix.NewASCIICountWriter(out, partID, n, k)
		checkError(err)
		for {
			row, ok := m.Next()
			if !ok {
				break
			}
			if row.Keep {
				checkError(w.WriteRow(row.Hash, row.Counts))
			}
		}
		checkError(w.Close())
		if gw != nil {
			checkError(gw.Close())
		}
		checkError(f.Close())

	case "pa":
		w, err := matrix.NewPAWriter(outBase+".pa", partID, n, k)
		checkError(err)
		for {
			row, ok := m.Next()
			if !ok {
				break
			}
			if row.Keep {
				checkError(w.WriteRow(row.Hash, row.Bitvec))
			}
		}
		checkError(w.Close())

	case "bf", "bf_trp":
		bfPath := outBase + ".bf"
		bw, err := matrix.NewBFWriter(bfPath, partID, window.Lower, window.Upper, n, opt.Verbose)
		checkError(err)
		for {
			row, ok := m.Next()
			if !ok {
				break
			}
			checkError(bw.Observe(row.Hash, row.Keep, row.Bitvec))
		}
		checkError(bw.Finish())

		if mode == "bf_trp" {
			// Open question resolved in DESIGN.md: keep both the
			// dense bf file and its transpose.
			checkError(matrix.Transpose(bfPath, outBase+".bf.trp", matrix.TransposeOptions{MemoryBudget: memBudget}))
		}
	}

	return m.Stats()
}

func readFof(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, sc.Err()
}

func buildAbundancePolicy(arg string, n int) (merge.AbundancePolicy, error) {
	if v, err := parsePositiveUint32(arg); err == nil {
		return merge.NewUniformAbundance(v, n), nil
	}

	f, err := os.Open(arg)
	if err != nil {
		return nil, errors.Wrapf(err, "--abundance-min %q is neither an integer nor a readable file", arg)
	}
	defer f.Close()

	var vec []uint32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := parsePositiveUint32(line)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing abundance vector file %s", arg)
		}
		vec = append(vec, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return merge.NewPerSampleAbundance(vec, n)
}

// fofDigest hashes the fof's own listed paths (not their contents) as
// a cheap cache-invalidation key for the orchestrator: a changed
// sample set changes the digest even before the merge runs.
func fofDigest(paths []string) (string, error) {
	h := xxhash.New()
	for _, p := range paths {
		if _, err := h.Write([]byte(p)); err != nil {
			return "", err
		}
		if _, err := h.Write([]byte{0}); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// writeStatsFile marshals s to yaml and writes it atomically via a
// temp-file-then-rename. When gzipOut is set the summary (and its
// final path) is gzip-compressed through outStream/pgzip, same as the
// ascii matrix output.
func writeStatsFile(path string, s mergeStats, gzipOut bool, level int) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshaling merge-stats.yml")
	}
	if gzipOut {
		path += ".gz"
	}
	tmp := path + ".tmp"

	f, gw, out, err := outStream(tmp, gzipOut, level)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		if gw != nil {
			gw.Close()
		}
		f.Close()
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			f.Close()
			return errors.Wrapf(err, "closing gzip writer for %s", tmp)
		}
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return os.Rename(tmp, path)
}
