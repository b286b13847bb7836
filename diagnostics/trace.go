// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diagnostics renders the per-major-iteration (μ, ‖r‖, f) trace
// the log line in ipm.Driver.Solve already prints, as a convergence plot.
// This is a domain-stack addition with no teacher analogue: gonum/plot is
// the only plotting library anywhere in the retrieval pack
// (RuiCat-circuit/go.mod), so it is given a home here rather than left
// unwired.
package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Sample is one major iteration's worth of convergence data.
type Sample struct {
	Iter    int
	Mu      float64
	ResNorm float64
	ObjVal  float64
}

// Trace accumulates Samples across a solve. Record takes a Sample of the
// iteration number and solver-internal scalars a Problem cannot observe
// (it does not take x), so a caller can wire it in alongside a
// problem.OutputWriter hook instead of in place of one.
type Trace struct {
	samples []Sample
}

// Record appends one iteration's scalars to the trace.
func (t *Trace) Record(s Sample) {
	t.samples = append(t.samples, s)
}

// Len reports how many samples have been recorded.
func (t *Trace) Len() int { return len(t.samples) }

// Plot renders μ, ‖r‖ (log-scale y via pre-log10'd values) and f against
// the major-iteration count to path as a PNG.
func (t *Trace) Plot(path string) error {
	if len(t.samples) == 0 {
		return fmt.Errorf("diagnostics: no samples recorded")
	}

	p := plot.New()
	p.Title.Text = "convergence trace"
	p.X.Label.Text = "major iteration"
	p.Y.Label.Text = "log10(value)"

	muPts := make(plotter.XYs, len(t.samples))
	resPts := make(plotter.XYs, len(t.samples))
	objPts := make(plotter.XYs, len(t.samples))
	for i, s := range t.samples {
		muPts[i] = plotter.XY{X: float64(s.Iter), Y: log10Safe(s.Mu)}
		resPts[i] = plotter.XY{X: float64(s.Iter), Y: log10Safe(s.ResNorm)}
		objPts[i] = plotter.XY{X: float64(s.Iter), Y: s.ObjVal}
	}

	muLine, err := plotter.NewLine(muPts)
	if err != nil {
		return fmt.Errorf("diagnostics: mu line: %w", err)
	}
	resLine, err := plotter.NewLine(resPts)
	if err != nil {
		return fmt.Errorf("diagnostics: residual line: %w", err)
	}
	objLine, err := plotter.NewLine(objPts)
	if err != nil {
		return fmt.Errorf("diagnostics: objective line: %w", err)
	}

	p.Add(muLine, resLine, objLine)
	p.Legend.Add("mu", muLine)
	p.Legend.Add("|r|", resLine)
	p.Legend.Add("f", objLine)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("diagnostics: save %s: %w", path, err)
	}
	return nil
}

func log10Safe(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log10(v)
}
