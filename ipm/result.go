// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import "github.com/nlopt-go/paropt/distvec"

// Result is the post-solve accessor surface of §4.8a
// (getOptimizedPoint/getOptimizedSlacks), grounded on lbfgsb.Result/
// Summary's borrowed-reference shape.
type Result struct {
	X, Zl, Zu    *distvec.Vec
	Zw, Sw       *distvec.Vec // nil if N_w == 0
	Z, S, T, Zt  []float64
	Mu           float64
	Status       Status
	MajorIters   int
	ObjValue     float64
	ResNorm      float64
}
