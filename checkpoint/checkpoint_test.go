// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
)

func newState(n, m, nw int) *State {
	layout := distvec.NewLayout(distvec.Local(), n)
	st := &State{
		Mu: 0.05,
		Z:  make([]float64, m), S: make([]float64, m),
		X: distvec.NewVec(layout), Zl: distvec.NewVec(layout), Zu: distvec.NewVec(layout),
	}
	for i := range st.Z {
		st.Z[i], st.S[i] = float64(i)+1, float64(i)+2
	}
	for i := range st.X.Data {
		st.X.Data[i], st.Zl.Data[i], st.Zu.Data[i] = float64(i)*0.5, 1, 1
	}
	if nw > 0 {
		wLayout := distvec.NewLayout(distvec.Local(), nw)
		st.Zw = distvec.NewVec(wLayout)
		st.Sw = distvec.NewVec(wLayout)
		for i := range st.Zw.Data {
			st.Zw.Data[i], st.Sw.Data[i] = 1, 1
		}
	}
	return st
}

func TestWriteReadRoundTrip(t *testing.T) {
	st := newState(4, 2, 0)
	var buf bytes.Buffer
	if err := Write(&buf, st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := newState(4, 2, 0)
	got.Mu = -1
	for i := range got.X.Data {
		got.X.Data[i] = -99
	}
	if err := Read(&buf, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Mu != st.Mu {
		t.Errorf("Mu = %v, want %v", got.Mu, st.Mu)
	}
	for i := range st.X.Data {
		if got.X.Data[i] != st.X.Data[i] {
			t.Errorf("X[%d] = %v, want %v", i, got.X.Data[i], st.X.Data[i])
		}
	}
	for i := range st.Z {
		if got.Z[i] != st.Z[i] || got.S[i] != st.S[i] {
			t.Errorf("Z/S[%d] mismatch: got (%v,%v) want (%v,%v)", i, got.Z[i], got.S[i], st.Z[i], st.S[i])
		}
	}
}

func TestWriteReadRoundTripWithSparseBlock(t *testing.T) {
	st := newState(3, 1, 5)
	var buf bytes.Buffer
	if err := Write(&buf, st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := newState(3, 1, 5)
	if err := Read(&buf, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range st.Zw.Data {
		if got.Zw.Data[i] != st.Zw.Data[i] || got.Sw.Data[i] != st.Sw.Data[i] {
			t.Errorf("Zw/Sw[%d] mismatch", i)
		}
	}
}

func TestReadRejectsSizeMismatch(t *testing.T) {
	st := newState(4, 2, 0)
	var buf bytes.Buffer
	if err := Write(&buf, st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wrong := newState(5, 2, 0)
	err := Read(&buf, wrong)
	if err != ErrSizeMismatch {
		t.Fatalf("Read error = %v, want ErrSizeMismatch", err)
	}
}
