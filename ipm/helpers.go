// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
	"github.com/nlopt-go/paropt/kktsolve"
)

func newFullSolution(xLayout *distvec.Layout, m int, wLayout *distvec.Layout) *kktsolve.Solution {
	return kktsolve.NewSolution(xLayout, m, wLayout)
}

// residualToRHS feeds a freshly computed residual straight into
// KKTDiagSolver/KKTStep as their right-hand side, the "Newton step solves
// for a correction that drives the residual to zero" framing both the
// affine starting point (§4.8) and the main step (§4.3–4.4) share.
func residualToRHS(r *kktassembly.Residual) *kktsolve.RHS {
	return &kktsolve.RHS{
		Bx: r.Rx, Bt: r.Rt, Bc: r.Rc, Bs: r.Rs, Bzt: r.Rzt,
		Bcw: r.Rcw, Bsw: r.Rsw, Bzl: r.Rzl, Bzu: r.Rzu,
	}
}
