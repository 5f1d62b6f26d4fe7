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

// Package cmd implements the kmmerge command line: a single cobra
// command that drives one partition's k-way merge through exactly one
// output encoder.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	colorable "github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	logging "github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"
)

// VERSION is the current release.
const VERSION = "0.1.0"

var log *logging.Logger

func init() {
	logFormat := logging.MustStringFormatter(
		`%{color}[%{level:.4s}]%{color:reset} %{message}`,
	)
	backend := logging.NewLogBackend(colorable.NewColorableStderr(), "", 0)
	backendFormatter := logging.NewBackendFormatter(backend, logFormat)
	logging.SetBackend(backendFormatter)
	log = logging.MustGetLogger("kmmerge")
}

// addLog additionally writes log records to file, returning the
// opened handle so the caller can close it on exit.
func addLog(file string, verbose bool) *os.File {
	fh, err := os.Create(file)
	checkError(errors.Wrapf(err, "creating log file %s", file))

	logFormat := logging.MustStringFormatter(`[%{level:.4s}] %{message}`)
	fileBackend := logging.NewBackendFormatter(logging.NewLogBackend(fh, "", 0), logFormat)

	stderrFormat := logging.MustStringFormatter(`%{color}[%{level:.4s}]%{color:reset} %{message}`)
	stderrBackend := logging.NewBackendFormatter(logging.NewLogBackend(colorable.NewColorableStderr(), "", 0), stderrFormat)

	logging.SetBackend(stderrBackend, fileBackend)
	return fh
}

// RootCmd is kmmerge's single command: there are no subcommands, the
// partition merge IS the program.
var RootCmd = &cobra.Command{
	Use:   "kmmerge",
	Short: "merge per-sample k-mer (hash,count) streams into a matrix output",
	Long: `kmmerge

K-way merge of per-sample sorted (hash, count) streams, with per-sample
abundance filtering, cross-sample recurrence filtering, and save-if
rescue, writing one of five output encodings for a single partition.
`,
	Run: runMerge,
}

// Execute runs RootCmd, exiting non-zero on any reported error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkError(err error) {
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// Options holds the ambient, cross-cutting flags every run reads,
// mirroring the teacher's getOptions/Options split between "how to
// run" and "what to do".
type Options struct {
	NumCPUs          int
	Verbose          bool
	Log2File         bool
	LogFile          string
	CompressionLevel int
	GzipOutput       bool
}

func getOptions(cmd *cobra.Command) Options {
	threads := getFlagPositiveInt(cmd, "threads")
	if threads > runtime.NumCPU() {
		threads = runtime.NumCPU()
	}

	opt := Options{
		NumCPUs:          threads,
		Verbose:          getFlagBool(cmd, "verbose") && !getFlagBool(cmd, "quiet"),
		LogFile:          getFlagString(cmd, "log-file"),
		CompressionLevel: getFlagInt(cmd, "compression-level"),
		GzipOutput:       getFlagBool(cmd, "gzip"),
	}
	opt.Log2File = opt.LogFile != ""
	return opt
}

func init() {
	RootCmd.PersistentFlags().IntP("threads", "j", runtime.NumCPU(), "number of CPUs to use")
	RootCmd.PersistentFlags().BoolP("verbose", "v", true, "print extra progress and timing information to stderr")
	RootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress extra output, overrides --verbose")
	RootCmd.PersistentFlags().StringP("log-file", "", "", "also write log records to this file")
	RootCmd.PersistentFlags().IntP("compression-level", "", 6, "gzip compression level (1-9) for ascii/stats output ending in .gz")
	RootCmd.PersistentFlags().BoolP("gzip", "z", false, "gzip-compress the ascii output and merge-stats.yml summary")
	RootCmd.PersistentFlags().StringP("cpu-profile", "", "", "write CPU profile to this directory")
	RootCmd.PersistentFlags().StringP("mem-profile", "", "", "write memory profile to this directory")
}
