// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quasinewton implements the compact limited-memory quasi-Newton
// representation B ≈ b0·I + Z·diag(d)·M·diag(d)·Zᵀ (§2 component 3, §4.3,
// §9), generalizing the fixed-size compact-matrix machinery of
// lbfgsb/update.go (formT, formK) to a runtime-sized subspace q ≤
// max_qn_size, and adding the L-SR1 variant alongside L-BFGS (§9 "Tagged
// variants cover L-BFGS vs L-SR1").
package quasinewton

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
	"gonum.org/v1/gonum/mat"
)

// Kind selects the update formula.
type Kind int

const (
	LBFGS Kind = iota
	LSR1
)

// Compact is the quasi-Newton interface (§9): mult, multAdd, update, reset,
// getCompactMat.
type Compact struct {
	kind   Kind
	layout *distvec.Layout
	maxLen int // max_qn_size (§6)
	sigma  float64

	b0 float64
	s  []*distvec.Vec // ring buffer of step vectors
	y  []*distvec.Vec // ring buffer of curvature vectors
	sy []float64      // sᵢᵀyᵢ, parallel to s/y
	l  int            // number of valid pairs (≤ maxLen)
	head int          // ring index of oldest pair

	// cached compact factors, recomputed lazily after Update/Reset
	dirty bool
	d     []float64
	m     *mat.Dense
	z     []*distvec.Vec
}

// New creates a Compact quasi-Newton object for the given kind and subspace
// cap, with ridge σ_qn added to b0 (§4.1 "plus the configured ridge σ_qn").
func New(layout *distvec.Layout, kind Kind, maxLen int, sigma float64) *Compact {
	c := &Compact{kind: kind, layout: layout, maxLen: maxLen, sigma: sigma}
	c.Reset()
	return c
}

// Reset clears the stored (s,y) history and resets b0 to 1 + σ_qn (§4.8 "On
// line-search failure, reset the quasi-Newton approximation").
func (c *Compact) Reset() {
	c.b0 = 1.0 + c.sigma
	c.s = make([]*distvec.Vec, c.maxLen)
	c.y = make([]*distvec.Vec, c.maxLen)
	c.sy = make([]float64, c.maxLen)
	c.l = 0
	c.head = 0
	c.dirty = true
}

// Size returns the current subspace size q.
func (c *Compact) Size() int {
	if c.kind == LBFGS {
		return 2 * c.l
	}
	return c.l
}

// B0 returns the current diagonal term b0.
func (c *Compact) B0() float64 { return c.b0 }

// Update incorporates a new (s,y) pair, guarded by the curvature condition
// sᵀy > ε·‖y‖² the way lbfgsb/update.go's updateCorrection skips an update
// on non-positive curvature. Returns whether the pair was accepted.
func (c *Compact) Update(s, y *distvec.Vec) bool {
	sy := s.Dot(y)
	yy := y.Dot(y)
	eps := math.Nextafter(1, 2) - 1
	if sy <= eps*yy {
		c.dirty = true // b0 may still have changed externally; force refactor
		return false
	}

	c.b0 = yy / sy // θ = yᵀy / sᵀy, as in lbfgsb/update.go
	if c.b0 < 1e-8 {
		c.b0 = 1e-8
	}
	c.b0 += c.sigma

	var idx int
	if c.l < c.maxLen {
		idx = (c.head + c.l) % c.maxLen
		c.l++
	} else {
		idx = c.head
		c.head = (c.head + 1) % c.maxLen
	}
	c.s[idx] = s
	c.y[idx] = y
	c.sy[idx] = sy
	c.dirty = true
	return true
}

// pairs returns the valid (s,y) pairs in chronological order.
func (c *Compact) pairs() (ss, yy []*distvec.Vec, syy []float64) {
	ss = make([]*distvec.Vec, c.l)
	yy = make([]*distvec.Vec, c.l)
	syy = make([]float64, c.l)
	for k := 0; k < c.l; k++ {
		idx := (c.head + k) % c.maxLen
		ss[k] = c.s[idx]
		yy[k] = c.y[idx]
		syy[k] = c.sy[idx]
	}
	return
}

// refactor recomputes (d, M, Z) from the current (s,y) history, following
// the Byrd–Nocedal–Schnabel compact representation folded into the
// b0·I + Z·diag(d)·M·diag(d)·Zᵀ sandwich the driver expects, with
// Z = [b0·S, Y] for L-BFGS (d ≡ 1 here;
// the sign/ordering work is absorbed into M, matching lbfgsb's formK which
// assembles the analogous indefinite 2l×2l system).
func (c *Compact) refactor() {
	if !c.dirty {
		return
	}
	ss, yy, syy := c.pairs()
	l := c.l
	if l == 0 {
		c.d, c.m, c.z = nil, nil, nil
		c.dirty = false
		return
	}

	switch c.kind {
	case LBFGS:
		q := 2 * l
		z := make([]*distvec.Vec, q)
		for k := 0; k < l; k++ {
			bs := distvec.NewVec(c.layout)
			bs.CopyFrom(ss[k])
			bs.Scale(c.b0)
			z[k] = bs
			z[l+k] = yy[k]
		}
		d := make([]float64, q)
		for i := range d {
			d[i] = 1
		}

		// Inner 2l×2l matrix: [ b0·SᵀS   L ]   its inverse, negated, is M,
		//                     [  Lᵀ     -D ]   with L_ij = s_iᵀy_j for i > j.
		inner := mat.NewDense(q, q, nil)
		for i := 0; i < l; i++ {
			for j := 0; j < l; j++ {
				sts := ss[i].Dot(ss[j])
				inner.Set(i, j, c.b0*sts)
			}
		}
		for i := 0; i < l; i++ {
			for j := 0; j < l; j++ {
				if i > j {
					v := ss[i].Dot(yy[j])
					inner.Set(i, l+j, v)
					inner.Set(l+j, i, v)
				}
			}
			inner.Set(l+i, i, 0)
			inner.Set(i, l+i, 0)
		}
		for i := 0; i < l; i++ {
			inner.Set(l+i, l+i, -syy[i])
		}

		var lu mat.LU
		lu.Factorize(inner)
		var invInner mat.Dense
		if err := lu.Solve(&invInner, identity(q)); err != nil {
			// singular compact system: fall back to a pure diagonal model
			c.d, c.m, c.z = nil, nil, nil
			c.dirty = false
			return
		}
		m := mat.NewDense(q, q, nil)
		m.Scale(-1, &invInner)
		c.d, c.m, c.z = d, m, z

	case LSR1:
		q := l
		z := make([]*distvec.Vec, q)
		for k := 0; k < l; k++ {
			w := distvec.NewVec(c.layout)
			w.CopyFrom(yy[k])
			w.Axpy(-c.b0, ss[k])
			z[k] = w
		}
		d := make([]float64, q)
		for i := range d {
			d[i] = 1
		}
		inner := mat.NewDense(q, q, nil)
		for i := 0; i < l; i++ {
			inner.Set(i, i, syy[i])
		}
		for i := 0; i < l; i++ {
			for j := 0; j < i; j++ {
				v := ss[i].Dot(yy[j])
				inner.Set(i, j, v)
				inner.Set(j, i, v)
			}
		}
		for i := 0; i < l; i++ {
			for j := 0; j < l; j++ {
				inner.Set(i, j, inner.At(i, j)-c.b0*ss[i].Dot(ss[j]))
			}
			inner.Set(i, i, inner.At(i, i)+c.b0*ss[i].Dot(ss[i]))
		}
		var lu mat.LU
		lu.Factorize(inner)
		var invInner mat.Dense
		if err := lu.Solve(&invInner, identity(q)); err != nil {
			c.d, c.m, c.z = nil, nil, nil
			c.dirty = false
			return
		}
		c.d, c.m, c.z = d, &invInner, z
	}
	c.dirty = false
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// GetCompactMat returns (b0, d, M, Z) such that B ≈ b0·I + Z·diag(d)·M·diag(d)·Zᵀ.
func (c *Compact) GetCompactMat() (b0 float64, d []float64, m *mat.Dense, z []*distvec.Vec) {
	c.refactor()
	return c.b0, c.d, c.m, c.z
}

// Mult returns B·v as a new Vec.
func (c *Compact) Mult(v *distvec.Vec) *distvec.Vec {
	out := distvec.NewVec(v.Layout)
	c.MultAdd(v, out)
	return out
}

// MultAdd computes out += B·v.
func (c *Compact) MultAdd(v, out *distvec.Vec) {
	out.Axpy(c.b0, v)
	c.refactor()
	q := len(c.z)
	if q == 0 {
		return
	}
	zv := make([]float64, q)
	for i, zi := range c.z {
		zv[i] = c.d[i] * zi.Dot(v)
	}
	mzv := make([]float64, q)
	mvec := mat.NewVecDense(q, zv)
	var res mat.VecDense
	res.MulVec(c.m, mvec)
	for i := 0; i < q; i++ {
		mzv[i] = c.d[i] * res.AtVec(i)
	}
	for i, zi := range c.z {
		out.Axpy(mzv[i], zi)
	}
}
