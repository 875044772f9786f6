// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit is a transaction size in weight units. The weight of a
// transaction is `base size * 3 + total size`, where the base size excludes
// the witness data.
type WeightUnit struct {
	wu uint64
}

// NewWeightUnit creates a WeightUnit from a raw weight.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{wu: val}
}

// Uint64 returns the raw weight.
func (w WeightUnit) Uint64() uint64 {
	return w.wu
}

// ToVB converts the weight to virtual bytes, rounding up a partial vbyte.
func (w WeightUnit) ToVB() VByte {
	vbytes := (w.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return NewVByte(vbytes)
}

// Add returns the sum of two weights.
func (w WeightUnit) Add(other WeightUnit) WeightUnit {
	return WeightUnit{wu: w.wu + other.wu}
}

// String returns the weight with its unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte is a transaction size in virtual bytes. One vbyte is four weight
// units.
type VByte struct {
	// wu is the size in weight units, always a multiple of four.
	wu uint64
}

// NewVByte creates a VByte from a vsize.
func NewVByte(val uint64) VByte {
	return VByte{wu: val * blockchain.WitnessScaleFactor}
}

// Uint64 returns the size in vbytes.
func (v VByte) Uint64() uint64 {
	return v.wu / blockchain.WitnessScaleFactor
}

// ToWU converts the vsize to weight units.
func (v VByte) ToWU() WeightUnit {
	return WeightUnit{wu: v.wu}
}

// Add returns the sum of two vsizes.
func (v VByte) Add(other VByte) VByte {
	return VByte{wu: v.wu + other.wu}
}

// String returns the vsize with its unit.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.Uint64())
}
