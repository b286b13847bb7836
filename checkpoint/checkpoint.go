// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint implements the binary solution-file format of §6,
// grounded on ParOptInteriorPoint::writeSolutionFile/readSolutionFile
// (original source l.791, l.887): a fixed 3-int32 size header, the barrier
// parameter and dense multiplier/slack vectors written once from the root
// rank, followed by the per-rank x/zl/zu (and, if N_w>0, zw/sw) slices at
// byte offsets computed from the global totals — the same "header once,
// then parallel fixed-offset slices" layout MPI_File_write_at_all
// expresses, adapted here to distvec's degenerate single-rank Comm: the
// local slices are written and read sequentially in one stream, with no
// gather, scatter or collective file view.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nlopt-go/paropt/distvec"
)

// ErrSizeMismatch is returned by Read when the file's header sizes do not
// match the live problem's N_total/N_w_total/m, mirroring the original's
// size_fail short-circuit.
var ErrSizeMismatch = fmt.Errorf("checkpoint: solution file size mismatch with current problem")

// State is the subset of an ipm.Driver iterate that a checkpoint captures
// (§6): the barrier parameter, the dense multiplier/slack vectors, the
// design variables and bound multipliers, and, if N_w>0, the sparse
// slack/multiplier vectors. Zl and Zu are nil when the problem carries no
// lower/upper bounds at all, mirroring Zw/Sw's N_w==0 nil-ness.
type State struct {
	Mu        float64
	Z, S      []float64 // length m
	X         *distvec.Vec
	Zl, Zu    *distvec.Vec // nil if the problem has no such bounds
	Zw, Sw    *distvec.Vec // nil if N_w == 0
}

// Write serializes st to w in the original's header-then-slices layout.
// The header (sizes, mu, z, s) is written once; x/zl/zu/zw/sw are written
// in full (this package targets the single-rank distvec.Local() Comm, so
// "every rank writes its own range" degenerates to one full-length write,
// the same simplification distvec.Comm documents elsewhere).
func Write(w io.Writer, st *State) error {
	m := len(st.Z)
	nTotal := st.X.Len()
	nwTotal := 0
	if st.Zw != nil {
		nwTotal = st.Zw.Len()
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int32(nTotal)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(nwTotal)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(m)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, st.Mu); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, st.Z); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, st.S); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, st.X.Data); err != nil {
		return err
	}
	if st.Zl != nil {
		if err := binary.Write(&buf, binary.LittleEndian, st.Zl.Data); err != nil {
			return err
		}
	}
	if st.Zu != nil {
		if err := binary.Write(&buf, binary.LittleEndian, st.Zu.Data); err != nil {
			return err
		}
	}
	if nwTotal > 0 {
		if err := binary.Write(&buf, binary.LittleEndian, st.Zw.Data); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, st.Sw.Data); err != nil {
			return err
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Read deserializes a checkpoint into st, which must already be sized to
// the live problem (its X/Zl/Zu/Zw/Sw vectors allocated, Z/S of length m).
// Read returns ErrSizeMismatch without modifying st if the header sizes
// disagree, the same check the original performs before touching any
// vector (l.914 "var_sizes[0] != var_range[size] ...").
func Read(r io.Reader, st *State) error {
	var nTotal, nwTotal, m int32
	if err := binary.Read(r, binary.LittleEndian, &nTotal); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &nwTotal); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return err
	}

	wantNW := int32(0)
	if st.Zw != nil {
		wantNW = int32(st.Zw.Len())
	}
	if int(nTotal) != st.X.Len() || nwTotal != wantNW || int(m) != len(st.Z) {
		return ErrSizeMismatch
	}

	if err := binary.Read(r, binary.LittleEndian, &st.Mu); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, st.Z); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, st.S); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, st.X.Data); err != nil {
		return err
	}
	if st.Zl != nil {
		if err := binary.Read(r, binary.LittleEndian, st.Zl.Data); err != nil {
			return err
		}
	}
	if st.Zu != nil {
		if err := binary.Read(r, binary.LittleEndian, st.Zu.Data); err != nil {
			return err
		}
	}
	if nwTotal > 0 {
		if err := binary.Read(r, binary.LittleEndian, st.Zw.Data); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, st.Sw.Data); err != nil {
			return err
		}
	}
	return nil
}
