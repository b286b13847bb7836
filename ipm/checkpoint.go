// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"fmt"
	"os"

	"github.com/nlopt-go/paropt/checkpoint"
)

// SaveCheckpoint writes the current iterate to path in the binary format
// of §6, so a solve can be resumed via LoadCheckpoint after an external
// interruption.
func (d *Driver) SaveCheckpoint(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	defer f.Close()

	st := &checkpoint.State{
		Mu: d.mu, Z: d.st.Z, S: d.st.S,
		X: d.st.X, Zl: d.st.Zl, Zu: d.st.Zu, Zw: d.st.Zw, Sw: d.st.Sw,
	}
	if err := checkpoint.Write(f, st); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	return nil
}

// LoadCheckpoint restores μ and the multiplier/slack/design vectors from
// path, overwriting the Driver's current iterate. The Driver must already
// be constructed against the same problem sizes the checkpoint was taken
// from (checkpoint.ErrSizeMismatch surfaces otherwise).
func (d *Driver) LoadCheckpoint(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	defer f.Close()

	st := &checkpoint.State{
		Z: d.st.Z, S: d.st.S,
		X: d.st.X, Zl: d.st.Zl, Zu: d.st.Zu, Zw: d.st.Zw, Sw: d.st.Sw,
	}
	if err := checkpoint.Read(f, st); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointIO, err)
	}
	d.mu = st.Mu
	return nil
}
