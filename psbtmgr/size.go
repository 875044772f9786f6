// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/pkg/btcunit"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// inputBaseSize is the outpoint and sequence of an input.
	inputBaseSize = 32 + 4 + 4

	// multisigSigSize is a push of a worst case DER signature with its
	// sighash flag.
	multisigSigSize = 1 + 73

	// nestedWSHScriptSigSize is the push of a 34 byte P2WSH program.
	nestedWSHScriptSigSize = 1 + 34

	// witnessMarkerWeight is the segwit marker and flag.
	witnessMarkerWeight = 2
)

// pushSize returns the size of a canonical push of n bytes.
func pushSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1 + n

	case n <= 0xff:
		return 2 + n

	default:
		return 3 + n
	}
}

// multisigInputWeight returns the weight of a signed m-of-n input of kind
// with the given multisig script. The bool reports whether the input has
// witness data.
func multisigInputWeight(kind ScriptKind, m,
	scriptLen int) (btcunit.WeightUnit, bool) {

	// Witness stack: the dummy element, m signatures and the script.
	witness := wire.VarIntSerializeSize(uint64(m+2)) + 1 +
		m*multisigSigSize +
		wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen

	var base int
	switch kind {
	case KindP2WSH:
		base = inputBaseSize + 1

	case KindP2SHP2WSH:
		base = inputBaseSize + 1 + nestedWSHScriptSigSize

	default:
		// OP_0 <sigs> <redeem script>
		scriptSig := 1 + m*multisigSigSize + pushSize(scriptLen)
		base = inputBaseSize +
			wire.VarIntSerializeSize(uint64(scriptSig)) + scriptSig

		return btcunit.NewWeightUnit(
			uint64(base * blockchain.WitnessScaleFactor),
		), false
	}

	return btcunit.NewWeightUnit(
		uint64(base*blockchain.WitnessScaleFactor + witness),
	), true
}

// sizedInput is what the estimator needs to know about one input.
type sizedInput struct {
	kind ScriptKind

	// script is the multisig script of script hash kinds.
	script []byte
}

// estimateVSize returns the vsize of the signed transaction. Single-sig
// inputs are sized by txsizes, multisig inputs are added by weight.
func estimateVSize(inputs []sizedInput, outputs []*wire.TxOut,
	changeScriptSize int) (btcunit.VByte, error) {

	var (
		numP2PKH, numP2TR, numP2WPKH, numNested int
		multisigWeight                          btcunit.WeightUnit
		multisigWitness                         bool
	)

	for _, in := range inputs {
		switch in.kind {
		case KindP2PKH:
			numP2PKH++

		case KindP2WPKH:
			numP2WPKH++

		case KindP2SHP2WPKH:
			numNested++

		case KindP2TR:
			numP2TR++

		case KindP2WSH, KindP2SHP2WSH, KindP2SH:
			ms, ok := parseMultisigScript(in.script)
			if !ok {
				return btcunit.VByte{}, fmt.Errorf("%w: cannot "+
					"size %v input without a multisig "+
					"script", ErrMissingUtxoData, in.kind)
			}

			weight, witness := multisigInputWeight(
				in.kind, ms.m, len(in.script),
			)
			multisigWeight = multisigWeight.Add(weight)
			multisigWitness = multisigWitness || witness

		default:
			return btcunit.VByte{}, fmt.Errorf("%w: %v",
				ErrUnknownScriptType, in.kind)
		}
	}

	vsize := txsizes.EstimateVirtualSize(
		numP2PKH, numP2TR, numP2WPKH, numNested, outputs,
		changeScriptSize,
	)

	// txsizes only counts the marker when it saw a witness input.
	if multisigWitness && numP2TR+numP2WPKH+numNested == 0 {
		multisigWeight = multisigWeight.Add(
			btcunit.NewWeightUnit(witnessMarkerWeight),
		)
	}

	total := btcunit.NewVByte(uint64(vsize)).ToWU().Add(multisigWeight)

	return total.ToVB(), nil
}
