// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ScriptKind is how an input's previous output is locked. It is computed
// once per input and drives signing, analysis and finalization.
type ScriptKind uint8

const (
	// KindUnknown is an unclassified script.
	KindUnknown ScriptKind = iota

	// KindP2PKH is a legacy key hash output.
	KindP2PKH

	// KindP2WPKH is a native segwit v0 key hash output.
	KindP2WPKH

	// KindP2SHP2WPKH is a key hash program nested in P2SH.
	KindP2SHP2WPKH

	// KindP2TR is a segwit v1 taproot output spent by key path.
	KindP2TR

	// KindP2WSH is a native segwit v0 script hash output.
	KindP2WSH

	// KindP2SHP2WSH is a script hash program nested in P2SH.
	KindP2SHP2WSH

	// KindP2SH is a legacy script hash output. Without a redeem script it
	// is also the kind of a P2SH output whose contents are not known yet.
	KindP2SH
)

// String returns a short name of the kind.
func (k ScriptKind) String() string {
	switch k {
	case KindP2PKH:
		return "p2pkh"

	case KindP2WPKH:
		return "p2wpkh"

	case KindP2SHP2WPKH:
		return "p2sh-p2wpkh"

	case KindP2TR:
		return "p2tr"

	case KindP2WSH:
		return "p2wsh"

	case KindP2SHP2WSH:
		return "p2sh-p2wsh"

	case KindP2SH:
		return "p2sh"

	default:
		return "unknown"
	}
}

// IsLegacy reports whether spending the kind needs the full previous
// transaction.
func (k ScriptKind) IsLegacy() bool {
	return k == KindP2PKH || k == KindP2SH
}

// IsScriptHash reports whether the kind commits to a script that may hold a
// multisig policy.
func (k ScriptKind) IsScriptHash() bool {
	return k == KindP2WSH || k == KindP2SHP2WSH || k == KindP2SH
}

// ClassifyInput returns the kind of an input from its previous output
// script and the redeem and witness scripts known for it. Supplied scripts
// must hash to the output.
func ClassifyInput(pkScript, redeemScript,
	witnessScript []byte) (ScriptKind, error) {

	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return KindP2PKH, nil

	case txscript.WitnessV0PubKeyHashTy:
		return KindP2WPKH, nil

	case txscript.WitnessV1TaprootTy:
		return KindP2TR, nil

	case txscript.WitnessV0ScriptHashTy:
		if len(witnessScript) > 0 {
			hash := sha256.Sum256(witnessScript)
			if !bytes.Equal(hash[:], pkScript[2:]) {
				return KindUnknown, fmt.Errorf("%w: witness "+
					"script", ErrRedeemScriptMismatch)
			}
		}

		return KindP2WSH, nil

	case txscript.ScriptHashTy:
		return classifyScriptHash(pkScript, redeemScript, witnessScript)

	default:
		return KindUnknown, fmt.Errorf("%w: %x", ErrUnknownScriptType,
			pkScript)
	}
}

// classifyScriptHash resolves what a P2SH output wraps.
func classifyScriptHash(pkScript, redeemScript,
	witnessScript []byte) (ScriptKind, error) {

	if len(redeemScript) == 0 {
		if len(witnessScript) > 0 {
			return KindP2SHP2WSH, nil
		}

		return KindP2SH, nil
	}

	// The script hash sits between OP_HASH160 <20> and OP_EQUAL.
	if !bytes.Equal(btcutil.Hash160(redeemScript), pkScript[2:22]) {
		return KindUnknown, fmt.Errorf("%w: redeem script",
			ErrRedeemScriptMismatch)
	}

	switch txscript.GetScriptClass(redeemScript) {
	case txscript.WitnessV0PubKeyHashTy:
		return KindP2SHP2WPKH, nil

	case txscript.WitnessV0ScriptHashTy:
		if len(witnessScript) > 0 {
			hash := sha256.Sum256(witnessScript)
			if !bytes.Equal(hash[:], redeemScript[2:]) {
				return KindUnknown, fmt.Errorf("%w: witness "+
					"script", ErrRedeemScriptMismatch)
			}
		}

		return KindP2SHP2WSH, nil

	default:
		return KindP2SH, nil
	}
}

// multisigScript is a parsed OP_m <keys> OP_n OP_CHECKMULTISIG script.
type multisigScript struct {
	m       int
	pubKeys [][]byte
}

// smallInt returns the value of an OP_1 .. OP_16 opcode.
func smallInt(op byte) (int, bool) {
	if op < txscript.OP_1 || op > txscript.OP_16 {
		return 0, false
	}

	return int(op-txscript.OP_1) + 1, true
}

// parseMultisigScript parses a bare multisig script. Both OP_CHECKMULTISIG
// and OP_CHECKMULTISIGVERIFY endings are accepted.
func parseMultisigScript(script []byte) (*multisigScript, bool) {
	var ops []byte
	var pushes [][]byte

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		ops = append(ops, tokenizer.Opcode())
		if tokenizer.Data() != nil {
			pushes = append(pushes, tokenizer.Data())
		}
	}
	if tokenizer.Err() != nil || len(ops) < 4 {
		return nil, false
	}

	last := ops[len(ops)-1]
	if last != txscript.OP_CHECKMULTISIG &&
		last != txscript.OP_CHECKMULTISIGVERIFY {

		return nil, false
	}

	m, ok := smallInt(ops[0])
	if !ok {
		return nil, false
	}
	n, ok := smallInt(ops[len(ops)-2])
	if !ok || n != len(pushes) || len(ops) != n+3 || m > n {
		return nil, false
	}

	for _, pub := range pushes {
		if len(pub) != 33 && len(pub) != 65 {
			return nil, false
		}
	}

	return &multisigScript{m: m, pubKeys: pushes}, true
}

// position returns the index of pubKey in the script, or -1.
func (s *multisigScript) position(pubKey []byte) int {
	for i, pub := range s.pubKeys {
		if bytes.Equal(pub, pubKey) {
			return i
		}
	}

	return -1
}

// inputScript returns the script an input's signatures commit to: the
// witness script when present, otherwise the redeem script.
func inputScript(in *psbt.PInput) []byte {
	if len(in.WitnessScript) > 0 {
		return in.WitnessScript
	}

	return in.RedeemScript
}

// isFinalized reports whether an input carries final scripts.
func isFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// prevOutput returns the output spent by input idx.
func prevOutput(packet *psbt.Packet, idx int) (*wire.TxOut, error) {
	in := &packet.Inputs[idx]
	outIndex := packet.UnsignedTx.TxIn[idx].PreviousOutPoint.Index

	switch {
	case in.WitnessUtxo != nil:
		return in.WitnessUtxo, nil

	case in.NonWitnessUtxo != nil:
		if int(outIndex) >= len(in.NonWitnessUtxo.TxOut) {
			return nil, fmt.Errorf("%w: input %d spends output %d "+
				"of a transaction with %d outputs",
				ErrPrevTxMismatch, idx, outIndex,
				len(in.NonWitnessUtxo.TxOut))
		}

		return in.NonWitnessUtxo.TxOut[outIndex], nil

	default:
		return nil, fmt.Errorf("%w: input %d", ErrMissingUtxoData, idx)
	}
}

// inputKind classifies input idx of packet.
func inputKind(packet *psbt.Packet, idx int) (ScriptKind, *wire.TxOut,
	error) {

	prevOut, err := prevOutput(packet, idx)
	if err != nil {
		return KindUnknown, nil, err
	}

	in := &packet.Inputs[idx]
	redeemScript, witnessScript := in.RedeemScript, in.WitnessScript
	if isFinalized(in) {
		redeemScript, witnessScript = finalScripts(in, prevOut.PkScript)
	}

	kind, err := ClassifyInput(
		prevOut.PkScript, redeemScript, witnessScript,
	)
	if err != nil {
		return KindUnknown, nil, fmt.Errorf("input %d: %w", idx, err)
	}

	return kind, prevOut, nil
}

// finalScripts recovers the redeem and witness scripts of a finalized input
// from its final scriptSig and witness. Finalization drops them from the
// input itself.
func finalScripts(in *psbt.PInput, pkScript []byte) ([]byte, []byte) {
	var redeemScript, witnessScript []byte
	if txscript.IsPayToScriptHash(pkScript) {
		pushes, err := txscript.PushedData(in.FinalScriptSig)
		if err == nil && len(pushes) > 0 {
			redeemScript = pushes[len(pushes)-1]
		}
	}

	if !txscript.IsPayToWitnessScriptHash(pkScript) &&
		!txscript.IsPayToWitnessScriptHash(redeemScript) {

		return redeemScript, nil
	}

	witness, err := readWitness(in.FinalScriptWitness)
	if err == nil && len(witness) > 0 {
		witnessScript = witness[len(witness)-1]
	}

	return redeemScript, witnessScript
}

// maxWitnessItems bounds the stack of a finalized multisig witness: a dummy,
// up to 20 signatures and the script, with room to spare.
const maxWitnessItems = 64

// readWitness parses a serialized witness stack.
func readWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxWitnessItems {
		return nil, fmt.Errorf("witness with %d items", count)
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, txscript.MaxScriptSize, "witness item",
		)
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}

	return witness, nil
}

// PrevOutputFetcher returns a txscript.PrevOutFetcher over the UTXO data of
// every input of packet. Inputs without UTXO data are left out.
func PrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		prevOut, err := prevOutput(packet, idx)
		if err != nil {
			continue
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOut)
	}

	return fetcher
}

// sigHashContext prepares the sighash midstate of packet. Every input must
// carry UTXO data since taproot digests commit to all spent outputs.
func sigHashContext(packet *psbt.Packet) (*txscript.TxSigHashes,
	*txscript.MultiPrevOutFetcher, error) {

	for idx := range packet.Inputs {
		if _, err := prevOutput(packet, idx); err != nil {
			return nil, nil, err
		}
	}

	fetcher := PrevOutputFetcher(packet)

	return txscript.NewTxSigHashes(packet.UnsignedTx, fetcher), fetcher,
		nil
}
