// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
)

const (
	// SequenceRBF signals BIP125 replaceability.
	SequenceRBF uint32 = wire.MaxTxInSequenceNum - 2

	// SequenceLockTime enables the lock time without signaling RBF.
	SequenceLockTime uint32 = wire.MaxTxInSequenceNum - 1

	// txVersion is the version of created transactions.
	txVersion = 2
)

// InputSequence returns the nSequence of a spending input. RBF wins over a
// lock time since an RBF sequence also enables the lock time.
func InputSequence(enableRBF bool, lockTime uint32) uint32 {
	switch {
	case enableRBF:
		return SequenceRBF

	case lockTime != 0:
		return SequenceLockTime

	default:
		return wire.MaxTxInSequenceNum
	}
}

// SpendSkeleton builds the unsigned transaction spending outpoints to
// outputs. The wallet only fixes the input sequence rule, amounts and fees
// are the caller's.
func (w *Wallet) SpendSkeleton(outpoints []wire.OutPoint,
	outputs []*wire.TxOut, lockTime uint32, enableRBF bool) *wire.MsgTx {

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = lockTime

	sequence := InputSequence(enableRBF, lockTime)
	for i := range outpoints {
		txIn := wire.NewTxIn(&outpoints[i], nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}

	for _, out := range outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, slices.Clone(out.PkScript)))
	}

	return tx
}

// Bip32Derivations returns the PSBT key origin records of a derived address
// in script order.
func (w *Wallet) Bip32Derivations(info *AddressInfo) []*psbt.Bip32Derivation {
	derivations := make([]*psbt.Bip32Derivation, 0, len(info.PubKeys))
	for _, pub := range info.PubKeys {
		info.Origin(pub).WhenSome(func(origin KeyOrigin) {
			derivations = append(derivations, &psbt.Bip32Derivation{
				PubKey: slices.Clone(pub),
				MasterKeyFingerprint: keyring.ToPSBTFingerprint(
					origin.Fingerprint,
				),
				Bip32Path: slices.Clone(origin.Path),
			})
		})
	}

	return derivations
}

// PolicyCosigner is the signer identity used by signature analysis.
type PolicyCosigner struct {
	ID          string
	Fingerprint uint32
}

// Policy is the part of a wallet a PSBT analyzer needs.
type Policy struct {
	M          int
	N          int
	ScriptType keyring.MultisigType
	Cosigners  []PolicyCosigner
}

// Fingerprints returns the cosigner fingerprints in cosigner order.
func (p Policy) Fingerprints() []uint32 {
	fps := make([]uint32, 0, len(p.Cosigners))
	for _, c := range p.Cosigners {
		fps = append(fps, c.Fingerprint)
	}

	return fps
}

// Policy returns the signing policy of the wallet.
func (w *Wallet) Policy() Policy {
	w.mu.Lock()
	defer w.mu.Unlock()

	policy := Policy{
		M:          w.m,
		N:          w.n,
		ScriptType: w.scriptType,
		Cosigners:  make([]PolicyCosigner, 0, len(w.cosigners)),
	}
	for _, c := range w.cosigners {
		policy.Cosigners = append(policy.Cosigners, PolicyCosigner{
			ID:          c.info.ID,
			Fingerprint: c.info.Fingerprint,
		})
	}

	return policy
}
