// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"fmt"

	"github.com/nlopt-go/paropt/barrier"
	"github.com/nlopt-go/paropt/diagnostics"
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/quasinewton"
)

// StartingPointStrategy selects how the initial multipliers are set (§4.8).
type StartingPointStrategy int

const (
	StartNone StartingPointStrategy = iota
	StartLeastSquares
	StartAffine
)

// NormType aliases distvec.NormType for a stable public name in Options.
type NormType = distvec.NormType

// Options enumerates every configuration knob of §6, with Go-idiomatic
// names and defaults taken from the original constructor defaults, mapped
// onto NewDriver's validation step the way lbfgsb.Problem.New validates
// its Termination (§2a ambient-stack note).
type Options struct {
	MaxQNSize             int
	QuasiNewtonKind       quasinewton.Kind
	StartingPointStrategy StartingPointStrategy
	BarrierStrategyKind   barrier.Strategy
	NormType              NormType

	MaxMajorIters int

	AbsResTol         float64
	RelFuncTol        float64
	AbsStepTol        float64
	FunctionPrecision float64
	DesignPrecision   float64
	MeritFuncCheckEps float64

	BarrierParam            float64 // initial μ
	RelBoundBarrier         float64 // η
	MonotoneBarrierFraction float64
	MonotoneBarrierPower    float64
	MinFractionToBoundary   float64 // τ

	PenaltyGamma           []float64
	PenaltyDescentFraction float64
	MinRhoPenaltySearch    float64

	ArmijoConstant        float64
	UseLineSearch         bool
	UseBacktrackingAlpha  bool
	MaxLineIters          int
	MaxLineSearchFailures int

	SequentialLinearMethod bool
	HessianResetFreq       int
	UseQuasiNewtonUpdate   bool
	QNSigma                float64 // σ_qn

	UseHvecProduct   bool
	UseDiagHessian   bool
	UseQNGMRESPrecon bool
	NKSwitchTol      float64

	EisenstatWalkerAlpha float64
	EisenstatWalkerGamma float64
	GMRESSubspaceSize    int
	MaxGMRESRtol         float64
	GMRESAtol            float64

	WriteOutputFrequency   int
	GradientCheckFrequency int
	GradientCheckStep      float64
	MajorIterStepCheck     int

	MaxBoundVal              float64
	StartAffineMultiplierMin float64

	// ConstraintScale is a per-dense-constraint reporting-only scale (§3
	// [SUPPLEMENT]); the driver does not read it, and it is never wired
	// into any residual or step computation.
	ConstraintScale []float64

	Logger *Logger

	// Trace, if non-nil, receives one diagnostics.Sample per major
	// iteration (§3 [SUPPLEMENT] reporting extra); it is never read back
	// by the driver, only appended to.
	Trace *diagnostics.Trace
}

// DefaultOptions mirrors the original constructor defaults named in §6.
func DefaultOptions() Options {
	return Options{
		MaxQNSize:               10,
		QuasiNewtonKind:         quasinewton.LBFGS,
		StartingPointStrategy:   StartNone,
		BarrierStrategyKind:     barrier.Monotone,
		NormType:                distvec.NormInf,
		MaxMajorIters:           200,
		AbsResTol:               1e-6,
		RelFuncTol:              1e-10,
		AbsStepTol:              1e-8,
		FunctionPrecision:       1e-13,
		DesignPrecision:         1e-14,
		MeritFuncCheckEps:       1e-4,
		BarrierParam:            0.1,
		RelBoundBarrier:         1.0,
		MonotoneBarrierFraction: 0.25,
		MonotoneBarrierPower:    1.1,
		MinFractionToBoundary:   0.95,
		PenaltyDescentFraction:  1e-4,
		MinRhoPenaltySearch:     1e-6,
		ArmijoConstant:          1e-2,
		UseLineSearch:           true,
		UseBacktrackingAlpha:    false,
		MaxLineIters:            30,
		MaxLineSearchFailures:   5,
		HessianResetFreq:        1 << 30,
		UseQuasiNewtonUpdate:    true,
		QNSigma:                 0,
		NKSwitchTol:             1e-3,
		EisenstatWalkerAlpha:    1.5,
		EisenstatWalkerGamma:    1.0,
		GMRESSubspaceSize:       10,
		MaxGMRESRtol:            0.5,
		GMRESAtol:               1e-30,
		WriteOutputFrequency:    0,
		GradientCheckFrequency:  0,
		GradientCheckStep:       1e-6,
		MajorIterStepCheck:      -1,
		MaxBoundVal:             1e20,
		StartAffineMultiplierMin: 1e-4,
	}
}

// Validate checks the cross-field consistency rules of §7's
// "Configuration inconsistency" error kind. It never returns a fatal
// error (§7 says to warn and proceed); the returned warnings should be
// logged by the caller.
func (o *Options) Validate(nwLocal, nwBlock int) []error {
	var warnings []error
	if nwBlock > 0 && nwLocal%nwBlock != 0 {
		warnings = append(warnings, fmt.Errorf("%w: N_w_local=%d not a multiple of nwblock=%d", ErrConfigInconsistent, nwLocal, nwBlock))
	}
	if o.MinFractionToBoundary <= 0 || o.MinFractionToBoundary >= 1 {
		warnings = append(warnings, fmt.Errorf("%w: min_fraction_to_boundary=%v must be in (0,1)", ErrConfigInconsistent, o.MinFractionToBoundary))
	}
	return warnings
}
