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

// Package runlayout resolves a run directory into the concrete paths
// the driver needs: a partition's file-of-files, the hash-window file,
// and the matrix output directory. Layout mirrors the STORE_KMERS /
// PART_DIR / HASHW_MAP path builders of the upstream C++ Env.
package runlayout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/iafan/cwalk"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts/sortutil"
)

// Layout is the set of resolved paths for one partition within a run
// directory.
type Layout struct {
	RunDir        string
	PartitionID   int
	PartitionFof  string
	HashWindowBin string
	MatrixDir     string
}

// Resolve expands runDir (including a leading ~) and derives every
// path this partition's merge needs, per the conventions:
//
//	<run-dir>/storage/kmers/partitions/partition<id>/partition<id>.fof
//	<run-dir>/storage/kmers/hash_windows.bin
//	<run-dir>/storage/matrix/
func Resolve(runDir string, partitionID int) (Layout, error) {
	if partitionID < 0 {
		return Layout{}, fmt.Errorf("partition id must be >= 0, got %d", partitionID)
	}
	expanded, err := homedir.Expand(runDir)
	if err != nil {
		return Layout{}, errors.Wrapf(err, "expanding run-dir %q", runDir)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Layout{}, errors.Wrapf(err, "resolving run-dir %q", runDir)
	}

	partDir := filepath.Join(abs, "storage", "kmers", "partitions", "partition"+strconv.Itoa(partitionID))
	return Layout{
		RunDir:        abs,
		PartitionID:   partitionID,
		PartitionFof:  filepath.Join(partDir, "partition"+strconv.Itoa(partitionID)+".fof"),
		HashWindowBin: filepath.Join(abs, "storage", "kmers", "hash_windows.bin"),
		MatrixDir:     filepath.Join(abs, "storage", "matrix"),
	}, nil
}

// EnsureMatrixDir creates the matrix output directory if it does not
// already exist.
func (l Layout) EnsureMatrixDir() error {
	if err := os.MkdirAll(l.MatrixDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating matrix output directory %s", l.MatrixDir)
	}
	return nil
}

// DiscoverPartitions concurrently walks <run-dir>/storage/kmers/partitions
// and returns the sorted list of partition ids present on disk, for
// orchestrator-side sanity checks ("did every partition actually run").
func DiscoverPartitions(runDir string) ([]int, error) {
	expanded, err := homedir.Expand(runDir)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding run-dir %q", runDir)
	}
	root := filepath.Join(expanded, "storage", "kmers", "partitions")

	var ids []int
	var mu sync.Mutex
	err = cwalk.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		if !strings.HasPrefix(name, "partition") {
			return nil
		}
		id, convErr := strconv.Atoi(strings.TrimPrefix(name, "partition"))
		if convErr != nil {
			return nil
		}
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}

	idsUint := make([]uint64, len(ids))
	for i, id := range ids {
		idsUint[i] = uint64(id)
	}
	sortutil.Uint64s(idsUint)
	for i, v := range idsUint {
		ids[i] = int(v)
	}
	return ids, nil
}
