// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
)

// bip48PathLen is the length of a full BIP48 key path,
// m/48'/coin'/account'/type'/chain/index.
const bip48PathLen = 6

// walletAddress finds the wallet address an output script pays to. Addresses
// not derived yet are rederived from the key origins of the input.
func walletAddress(w *multisig.Wallet, in *psbt.PInput,
	pkScript []byte) (*multisig.AddressInfo, bool) {

	if info := w.LookupScript(pkScript).UnwrapOr(nil); info != nil {
		return info, true
	}

	fingerprints := w.Policy().Fingerprints()
	for _, d := range in.Bip32Derivation {
		fp := keyring.FromPSBTFingerprint(d.MasterKeyFingerprint)
		if !slices.Contains(fingerprints, fp) ||
			len(d.Bip32Path) != bip48PathLen {

			continue
		}

		chain, index := d.Bip32Path[4], d.Bip32Path[5]
		if chain > keyring.InternalBranch ||
			index >= keyring.HardenedKeyStart {

			continue
		}

		info, err := w.DeriveAddress(
			index, chain == keyring.InternalBranch,
		)
		if err != nil {
			continue
		}
		if bytes.Equal(info.PkScript, pkScript) {
			return info, true
		}
	}

	return nil, false
}

// decorateMultisigInput adds the scripts and key origins of info the input
// is missing.
func decorateMultisigInput(w *multisig.Wallet, in *psbt.PInput,
	info *multisig.AddressInfo) {

	if len(in.RedeemScript) == 0 && len(info.RedeemScript) > 0 {
		in.RedeemScript = slices.Clone(info.RedeemScript)
	}
	if len(in.WitnessScript) == 0 && len(info.WitnessScript) > 0 {
		in.WitnessScript = slices.Clone(info.WitnessScript)
	}
	for _, d := range w.Bip32Derivations(info) {
		addDerivation(in, d)
	}
}

// cosignerKey returns the script key of cosignerID in info and the BIP48
// path its engine derives it at.
func cosignerKey(w *multisig.Wallet, info *multisig.AddressInfo,
	cosignerID string) ([]byte, keyring.MultisigKeyPath, error) {

	for _, pub := range info.PubKeys {
		origin := info.Origin(pub).UnwrapOr(multisig.KeyOrigin{})
		if origin.CosignerID != cosignerID {
			continue
		}

		if len(origin.Path) != bip48PathLen {
			return nil, keyring.MultisigKeyPath{}, fmt.Errorf(
				"%w: cosigner %s key path %s is not BIP48",
				ErrPathMismatch, cosignerID,
				keyring.FormatDerivationPath(origin.Path),
			)
		}

		return pub, keyring.MultisigKeyPath{
			Type:    w.ScriptType(),
			Account: origin.Path[2] - keyring.HardenedKeyStart,
			Chain:   origin.Path[4],
			Index:   origin.Path[5],
		}, nil
	}

	return nil, keyring.MultisigKeyPath{}, fmt.Errorf("%w: cosigner %s "+
		"has no key in %s", multisig.ErrCosignerNotFound, cosignerID,
		info.Address)
}

// SignMultisig signs every input paying to the wallet with the local engine
// attached to cosignerID. Missing scripts and key origins are added to the
// inputs first, so a bare skeleton with UTXO data can be signed.
func (e *Engine) SignMultisig(packet *psbt.Packet, w *multisig.Wallet,
	cosignerID string) (*SignResult, error) {

	if !w.IsComplete() {
		return nil, multisig.ErrWalletIncomplete
	}

	signer, err := w.Signer(cosignerID)
	if err != nil {
		return nil, err
	}

	sigHashes, _, err := sigHashContext(packet)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	result := &SignResult{}
	for idx := range packet.Inputs {
		in := &packet.Inputs[idx]
		if isFinalized(in) {
			result.FinalizedInputs = append(
				result.FinalizedInputs, idx,
			)
			continue
		}

		prevOut, err := prevOutput(packet, idx)
		if err != nil {
			return nil, err
		}

		info, ok := walletAddress(w, in, prevOut.PkScript)
		if !ok {
			result.SkippedInputs = append(result.SkippedInputs, idx)
			continue
		}
		decorateMultisigInput(w, in, info)

		kind, _, err := inputKind(packet, idx)
		if err != nil {
			return nil, err
		}

		pub, keyPath, err := cosignerKey(w, info, cosignerID)
		if err != nil {
			return nil, err
		}

		if hasPartialSig(in, pub) {
			log.Debugf("Input %d already signed by %s", idx,
				cosignerID)
			result.SkippedInputs = append(result.SkippedInputs, idx)
			continue
		}
		in.SighashType = txscript.SigHashAll

		sig, err := signMultisigInput(
			packet.UnsignedTx, sigHashes, idx, kind, prevOut, info,
			signer, keyPath, pub,
		)
		if err != nil {
			return nil, err
		}

		outcome, err := updater.Sign(idx, sig, pub, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("input %d: sign outcome %d", idx,
				outcome)
		}

		result.SignedInputs = append(result.SignedInputs, idx)
	}

	log.Debugf("Cosigner %s signed %d inputs of %v", cosignerID,
		len(result.SignedInputs), packet.UnsignedTx.TxHash())

	return result, nil
}

// signMultisigInput produces the cosigner signature of one multisig input
// after checking that the engine derives the script key.
func signMultisigInput(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	idx int, kind ScriptKind, prevOut *wire.TxOut,
	info *multisig.AddressInfo, signer *keyring.Engine,
	keyPath keyring.MultisigKeyPath, pub []byte) ([]byte, error) {

	var sig []byte
	err := signer.WithMultisigPrivKey(keyPath,
		func(priv *btcec.PrivateKey) error {
			if !bytes.Equal(priv.PubKey().SerializeCompressed(), pub) {
				return fmt.Errorf("%w: input %d", ErrPathMismatch,
					idx)
			}

			var err error
			switch kind {
			case KindP2SH:
				sig, err = txscript.RawTxInSignature(
					tx, idx, info.RedeemScript,
					txscript.SigHashAll, priv,
				)

			case KindP2WSH, KindP2SHP2WSH:
				sig, err = txscript.RawTxInWitnessSignature(
					tx, sigHashes, idx, prevOut.Value,
					info.WitnessScript, txscript.SigHashAll,
					priv,
				)

			default:
				err = fmt.Errorf("%w: multisig input %d is %v",
					ErrUnknownScriptType, idx, kind)
			}

			return err
		},
	)
	if err != nil {
		return nil, err
	}

	return sig, nil
}
