// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diagnostics

import (
	"path/filepath"
	"testing"
)

func TestPlotRejectsEmptyTrace(t *testing.T) {
	var tr Trace
	if err := tr.Plot("unused.png"); err == nil {
		t.Fatal("Plot on an empty trace should return an error")
	}
}

func TestRecordAccumulatesSamples(t *testing.T) {
	var tr Trace
	for i := 0; i < 5; i++ {
		tr.Record(Sample{Iter: i, Mu: 1.0 / float64(i+1), ResNorm: 1.0 / float64(i+2), ObjVal: float64(i)})
	}
	if tr.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", tr.Len())
	}
}

func TestPlotWritesFile(t *testing.T) {
	var tr Trace
	tr.Record(Sample{Iter: 0, Mu: 0.1, ResNorm: 1.0, ObjVal: 10})
	tr.Record(Sample{Iter: 1, Mu: 0.01, ResNorm: 0.1, ObjVal: 5})

	path := filepath.Join(t.TempDir(), "trace.png")
	if err := tr.Plot(path); err != nil {
		t.Fatalf("Plot: %v", err)
	}
}
