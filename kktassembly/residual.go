// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktassembly

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
)

// Residual is the residual tuple of §3 (rx, rt, rc, rcw, rs, rsw, rzt, rzl, rzu).
type Residual struct {
	Rx           *distvec.Vec
	Rt, Rc, Rs, Rzt []float64 // length m
	Rcw, Rsw     *distvec.Vec // length N_w
	Rzl, Rzu     *distvec.Vec // length N
}

// NewResidual allocates a Residual matching the given shapes.
func NewResidual(xLayout *distvec.Layout, m int, wLayout *distvec.Layout) *Residual {
	r := &Residual{
		Rx:  distvec.NewVec(xLayout),
		Rt:  make([]float64, m),
		Rc:  make([]float64, m),
		Rs:  make([]float64, m),
		Rzt: make([]float64, m),
		Rzl: distvec.NewVec(xLayout),
		Rzu: distvec.NewVec(xLayout),
	}
	if wLayout != nil {
		r.Rcw = distvec.NewVec(wLayout)
		r.Rsw = distvec.NewVec(wLayout)
	}
	return r
}

// ComputeResidual assembles the perturbed KKT residual at barrier parameter
// μ (§4.1). c is the dense constraint vector, cw the sparse constraint
// vector, and awTzw = A_wᵀ·z_w, all already evaluated by the caller via the
// Problem callback (this package stays a pure numerical leaf with no
// Problem dependency). Returns (max_prime, max_dual, max_infeas, res_norm)
// following ParOpt's computeKKTRes accumulator assignment exactly:
// max_prime accumulates (rx, rt); max_dual accumulates (rs, rzt, rzl, rzu,
// rsw); max_infeas accumulates (rcw, rc).
func ComputeResidual(st *State, r *Residual, c []float64, cw, awTzw *distvec.Vec, mu float64, norm distvec.NormType) (maxPrime, maxDual, maxInfeas, resNorm float64) {
	m := len(st.Z)

	// rx ← −(g − Σ zᵢAcᵢ − Awᵀzw − zl + zu)
	r.Rx.Fill(0)
	if st.UseLowerBounds && st.Zl != nil {
		r.Rx.CopyFrom(st.Zl)
	}
	if st.UseUpperBounds && st.Zu != nil {
		r.Rx.Axpy(-1.0, st.Zu)
	}
	r.Rx.Axpy(-1.0, st.G)
	for i := 0; i < m; i++ {
		r.Rx.Axpy(st.Z[i], st.Ac[i])
	}
	if awTzw != nil {
		r.Rx.Axpy(1.0, awTzw)
	}

	if r.Rcw != nil && cw != nil {
		r.Rcw.CopyFrom(cw)
		if st.SparseInequality && st.Sw != nil {
			r.Rcw.Axpy(-1.0, st.Sw)
		}
		r.Rcw.Scale(-1.0)
	}

	rxNorm := r.Rx.Norm(norm)
	maxPrime = accumNorm(norm, maxPrime, rxNorm, squareIf(norm, rxNorm))
	maxInfeas = accumVecNorm(norm, r.Rcw)

	for i := 0; i < m; i++ {
		if st.DenseInequality {
			r.Rc[i] = -(c[i] - st.S[i] + st.T[i])
			r.Rs[i] = -(st.S[i]*st.Z[i] - mu)
			r.Rt[i] = -(st.PenaltyGamma[i] - st.Zt[i] - st.Z[i])
			r.Rzt[i] = -(st.T[i]*st.Zt[i] - mu)
		} else {
			r.Rc[i] = -c[i]
			r.Rs[i], r.Rt[i], r.Rzt[i] = 0, 0, 0
		}
	}
	maxPrime = accumScalarSliceNorm(norm, maxPrime, r.Rt)
	maxInfeas = accumScalarSliceNorm(norm, maxInfeas, r.Rc)
	maxDual = accumScalarSliceNorm(norm, maxDual, r.Rs)
	maxDual = accumScalarSliceNorm(norm, maxDual, r.Rzt)

	if st.UseLowerBounds {
		xd := st.X.Data
		lbd := st.Lb.Data
		zld := st.Zl.Data
		rzld := r.Rzl.Data
		for i := range xd {
			if boundFinite(lbd[i], st.MaxBoundValue) {
				rzld[i] = -((xd[i] - lbd[i]) * zld[i] - st.RelBoundBarrier*mu)
			} else {
				rzld[i] = 0
			}
		}
		maxDual = accumVecNormInto(norm, maxDual, r.Rzl)
	}
	if st.UseUpperBounds {
		xd := st.X.Data
		ubd := st.Ub.Data
		zud := st.Zu.Data
		rzud := r.Rzu.Data
		for i := range xd {
			if boundFinite(ubd[i], st.MaxBoundValue) {
				rzud[i] = -((ubd[i] - xd[i]) * zud[i] - st.RelBoundBarrier*mu)
			} else {
				rzud[i] = 0
			}
		}
		maxDual = accumVecNormInto(norm, maxDual, r.Rzu)
	}
	if st.SparseInequality && r.Rsw != nil {
		zwd := st.Zw.Data
		swd := st.Sw.Data
		rswd := r.Rsw.Data
		for i := range zwd {
			rswd[i] = -(swd[i]*zwd[i] - mu)
		}
		maxDual = accumVecNormInto(norm, maxDual, r.Rsw)
	}

	if norm == distvec.NormL2 {
		maxPrime = math.Sqrt(maxPrime)
		maxDual = math.Sqrt(maxDual)
		maxInfeas = math.Sqrt(maxInfeas)
	}

	resNorm = maxPrime
	if maxDual > resNorm {
		resNorm = maxDual
	}
	if maxInfeas > resNorm {
		resNorm = maxInfeas
	}
	return
}

func squareIf(norm distvec.NormType, v float64) float64 {
	if norm == distvec.NormL2 {
		return v * v
	}
	return v
}

// accumNorm folds a scalar contribution into a running accumulator under
// the given norm kind: max for ∞-norm, sum for ℓ1, sum-of-squares for ℓ2.
func accumNorm(norm distvec.NormType, acc, raw, squared float64) float64 {
	switch norm {
	case distvec.NormInf:
		if raw > acc {
			return raw
		}
		return acc
	case distvec.NormL1:
		return acc + raw
	default:
		return acc + squared
	}
}

func accumVecNorm(norm distvec.NormType, v *distvec.Vec) float64 {
	if v == nil {
		return 0
	}
	raw := v.Norm(norm)
	return accumNorm(norm, 0, raw, squareIf(norm, raw))
}

func accumVecNormInto(norm distvec.NormType, acc float64, v *distvec.Vec) float64 {
	raw := v.Norm(norm)
	return accumNorm(norm, acc, raw, squareIf(norm, raw))
}

func accumScalarSliceNorm(norm distvec.NormType, acc float64, vals []float64) float64 {
	switch norm {
	case distvec.NormInf:
		for _, v := range vals {
			if a := math.Abs(v); a > acc {
				acc = a
			}
		}
	case distvec.NormL1:
		for _, v := range vals {
			acc += math.Abs(v)
		}
	default:
		for _, v := range vals {
			acc += v * v
		}
	}
	return acc
}
