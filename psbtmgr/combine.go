// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// Combine merges packets that spend the same unsigned transaction, the way
// signatures from independent cosigners are brought together. Fields missing
// in the first packet are taken from the later ones and lists are joined by
// key. The packets passed in are not modified.
func (e *Engine) Combine(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: nothing to combine",
			ErrCombineMismatch)
	}

	combined, err := clonePacket(packets[0])
	if err != nil {
		return nil, err
	}
	txid := combined.UnsignedTx.TxHash()

	for i, src := range packets[1:] {
		// Merged fields are shared with the source, so merge from a
		// private copy.
		packet, err := clonePacket(src)
		if err != nil {
			return nil, err
		}

		if packet.UnsignedTx.TxHash() != txid ||
			len(packet.Inputs) != len(combined.Inputs) ||
			len(packet.Outputs) != len(combined.Outputs) {

			return nil, fmt.Errorf("%w: packet %d spends %v, want %v",
				ErrCombineMismatch, i+1,
				packet.UnsignedTx.TxHash(), txid)
		}

		for idx := range packet.Inputs {
			mergeInput(&combined.Inputs[idx], &packet.Inputs[idx])
		}
		for idx := range packet.Outputs {
			mergeOutput(&combined.Outputs[idx], &packet.Outputs[idx])
		}
		combined.Unknowns = mergeUnknowns(
			combined.Unknowns, packet.Unknowns,
		)
	}

	// A finalized input carries nothing but its final scripts and UTXO.
	for idx := range combined.Inputs {
		in := &combined.Inputs[idx]
		if !isFinalized(in) {
			continue
		}

		in.PartialSigs = nil
		in.SighashType = 0
		in.RedeemScript = nil
		in.WitnessScript = nil
		in.Bip32Derivation = nil
		in.TaprootKeySpendSig = nil
		in.TaprootBip32Derivation = nil
		in.TaprootInternalKey = nil
	}

	if err := combined.SanityCheck(); err != nil {
		return nil, fmt.Errorf("combined psbt is invalid: %w", err)
	}

	log.Debugf("Combined %d packets of %v", len(packets), txid)

	return combined, nil
}

// orBytes returns a unless it is empty.
func orBytes(a, b []byte) []byte {
	if len(a) > 0 {
		return a
	}

	return b
}

func mergeInput(dst, src *psbt.PInput) {
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.SighashType == 0 {
		dst.SighashType = src.SighashType
	}

	dst.RedeemScript = orBytes(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = orBytes(dst.WitnessScript, src.WitnessScript)
	dst.FinalScriptSig = orBytes(dst.FinalScriptSig, src.FinalScriptSig)
	dst.FinalScriptWitness = orBytes(
		dst.FinalScriptWitness, src.FinalScriptWitness,
	)
	dst.TaprootKeySpendSig = orBytes(
		dst.TaprootKeySpendSig, src.TaprootKeySpendSig,
	)
	dst.TaprootInternalKey = orBytes(
		dst.TaprootInternalKey, src.TaprootInternalKey,
	)
	dst.TaprootMerkleRoot = orBytes(
		dst.TaprootMerkleRoot, src.TaprootMerkleRoot,
	)

	for _, sig := range src.PartialSigs {
		if !hasPartialSig(dst, sig.PubKey) {
			dst.PartialSigs = append(dst.PartialSigs, sig)
		}
	}
	for _, d := range src.Bip32Derivation {
		addDerivation(dst, d)
	}

	dst.TaprootBip32Derivation = mergeTaprootDerivations(
		dst.TaprootBip32Derivation, src.TaprootBip32Derivation,
	)
	dst.Unknowns = mergeUnknowns(dst.Unknowns, src.Unknowns)
}

func mergeOutput(dst, src *psbt.POutput) {
	dst.RedeemScript = orBytes(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = orBytes(dst.WitnessScript, src.WitnessScript)
	dst.TaprootInternalKey = orBytes(
		dst.TaprootInternalKey, src.TaprootInternalKey,
	)

	for _, d := range src.Bip32Derivation {
		known := false
		for _, have := range dst.Bip32Derivation {
			if bytes.Equal(have.PubKey, d.PubKey) {
				known = true
				break
			}
		}
		if !known {
			dst.Bip32Derivation = append(dst.Bip32Derivation, d)
		}
	}

	dst.TaprootBip32Derivation = mergeTaprootDerivations(
		dst.TaprootBip32Derivation, src.TaprootBip32Derivation,
	)
}

func mergeTaprootDerivations(dst,
	src []*psbt.TaprootBip32Derivation) []*psbt.TaprootBip32Derivation {

	for _, d := range src {
		known := false
		for _, have := range dst {
			if bytes.Equal(have.XOnlyPubKey, d.XOnlyPubKey) {
				known = true
				break
			}
		}
		if !known {
			dst = append(dst, d)
		}
	}

	return dst
}

func mergeUnknowns(dst, src []*psbt.Unknown) []*psbt.Unknown {
	for _, u := range src {
		known := false
		for _, have := range dst {
			if bytes.Equal(have.Key, u.Key) {
				known = true
				break
			}
		}
		if !known {
			dst = append(dst, u)
		}
	}

	return dst
}
