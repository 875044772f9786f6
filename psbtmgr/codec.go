// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// EncodeBase64 returns the base64 serialization of packet.
func EncodeBase64(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

// DecodeBase64 parses a base64 encoded PSBT.
func DecodeBase64(s string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(s)),
		true)
}

// Extract returns the serialized network transaction of a complete packet
// and its txid.
func Extract(packet *psbt.Packet) ([]byte, chainhash.Hash, error) {
	if !packet.IsComplete() {
		return nil, chainhash.Hash{}, ErrNotComplete
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, chainhash.Hash{}, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, chainhash.Hash{}, err
	}

	return buf.Bytes(), tx.TxHash(), nil
}

// PSBTInput is a read only view of one input.
type PSBTInput struct {
	OutPoint wire.OutPoint
	Sequence uint32

	// Value and Address are empty when the input has no UTXO data.
	Value   btcutil.Amount
	Address string
	Kind    ScriptKind

	// Signed is set when the input holds any signature.
	Signed    bool
	Finalized bool

	// SignerFingerprints are the master fingerprints of the keys that
	// signed, as far as the derivations tell.
	SignerFingerprints []uint32
}

// PSBTOutput is a read only view of one output.
type PSBTOutput struct {
	Value   btcutil.Amount
	Address string

	// Fingerprints lists the key origins attached to the output. Change
	// outputs carry them.
	Fingerprints []uint32
}

// DecodedPSBT is a summary of a packet. It is computed on every Decode and
// never stored.
type DecodedPSBT struct {
	// TxID is the id of the extracted transaction once the packet is
	// complete. Before that it is the id of the unsigned transaction,
	// which differs from the final one when any input ends up with a
	// scriptSig.
	TxID     chainhash.Hash
	Version  int32
	LockTime uint32
	Inputs   []PSBTInput
	Outputs  []PSBTOutput

	// Fee is known when every input has UTXO data.
	Fee fn.Option[btcutil.Amount]

	Complete bool
}

// signerFingerprints maps the partial signature keys of in to fingerprints.
func signerFingerprints(in *psbt.PInput) []uint32 {
	var fps []uint32
	for _, sig := range in.PartialSigs {
		for _, d := range in.Bip32Derivation {
			if bytes.Equal(d.PubKey, sig.PubKey) {
				fps = append(fps, keyring.FromPSBTFingerprint(
					d.MasterKeyFingerprint,
				))
				break
			}
		}
	}

	if len(in.TaprootKeySpendSig) > 0 {
		for _, d := range in.TaprootBip32Derivation {
			fps = append(fps, keyring.FromPSBTFingerprint(
				d.MasterKeyFingerprint,
			))
		}
	}

	return fps
}

// Decode summarizes packet.
func (e *Engine) Decode(packet *psbt.Packet) (*DecodedPSBT, error) {
	if err := packet.SanityCheck(); err != nil {
		return nil, err
	}

	tx := packet.UnsignedTx
	decoded := &DecodedPSBT{
		TxID:     tx.TxHash(),
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Inputs:   make([]PSBTInput, 0, len(tx.TxIn)),
		Outputs:  make([]PSBTOutput, 0, len(tx.TxOut)),
		Complete: packet.IsComplete(),
	}

	if decoded.Complete {
		final, err := psbt.Extract(packet)
		if err != nil {
			return nil, err
		}
		decoded.TxID = final.TxHash()
	}

	var totalIn, totalOut btcutil.Amount
	feeKnown := true
	for idx, txIn := range tx.TxIn {
		in := &packet.Inputs[idx]
		view := PSBTInput{
			OutPoint:           txIn.PreviousOutPoint,
			Sequence:           txIn.Sequence,
			Finalized:          isFinalized(in),
			SignerFingerprints: signerFingerprints(in),
		}
		view.Signed = view.Finalized || len(in.PartialSigs) > 0 ||
			len(in.TaprootKeySpendSig) > 0

		prevOut, err := prevOutput(packet, idx)
		if err != nil {
			feeKnown = false
			decoded.Inputs = append(decoded.Inputs, view)

			continue
		}

		view.Value = btcutil.Amount(prevOut.Value)
		view.Address, _ = e.inputAddress(prevOut.PkScript)
		totalIn += view.Value

		kind, _, err := inputKind(packet, idx)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		view.Kind = kind

		decoded.Inputs = append(decoded.Inputs, view)
	}

	for idx, txOut := range tx.TxOut {
		view := PSBTOutput{Value: btcutil.Amount(txOut.Value)}
		view.Address, _ = e.inputAddress(txOut.PkScript)
		for _, d := range packet.Outputs[idx].Bip32Derivation {
			view.Fingerprints = append(view.Fingerprints,
				keyring.FromPSBTFingerprint(
					d.MasterKeyFingerprint,
				),
			)
		}
		totalOut += view.Value

		decoded.Outputs = append(decoded.Outputs, view)
	}

	if feeKnown {
		decoded.Fee = fn.Some(totalIn - totalOut)
	}

	return decoded, nil
}
