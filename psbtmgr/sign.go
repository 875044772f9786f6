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
)

// SignResult reports what Sign and SignMultisig did per input.
type SignResult struct {
	// SignedInputs are the inputs that received a signature.
	SignedInputs []int

	// SkippedInputs are the inputs the signer has no key for, or has
	// signed already.
	SkippedInputs []int

	// FinalizedInputs are the inputs left alone since they carry final
	// scripts.
	FinalizedInputs []int
}

// kindForScriptType returns the input kind a single-sig script type spends.
func kindForScriptType(st keyring.ScriptType) ScriptKind {
	switch st {
	case keyring.ScriptTypeP2PKH:
		return KindP2PKH

	case keyring.ScriptTypeNestedP2WPKH:
		return KindP2SHP2WPKH

	case keyring.ScriptTypeP2WPKH:
		return KindP2WPKH

	case keyring.ScriptTypeP2TR:
		return KindP2TR

	default:
		return KindUnknown
	}
}

// inputAddress returns the encoded address of an output script.
func (e *Engine) inputAddress(pkScript []byte) (string, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, e.net)
	if err != nil || len(addrs) != 1 {
		return "", false
	}

	return addrs[0].EncodeAddress(), true
}

// addDerivation appends d to the input unless its key is listed already.
func addDerivation(in *psbt.PInput, d *psbt.Bip32Derivation) {
	for _, have := range in.Bip32Derivation {
		if bytes.Equal(have.PubKey, d.PubKey) {
			return
		}
	}

	in.Bip32Derivation = append(in.Bip32Derivation, d)
}

// decorateTaproot fills the taproot key origin fields of a key path input
// from its single bip32 derivation.
func decorateTaproot(in *psbt.PInput) {
	if len(in.Bip32Derivation) != 1 {
		return
	}

	d := in.Bip32Derivation[0]
	if len(d.PubKey) != btcec.PubKeyBytesLenCompressed {
		return
	}

	xOnly := slices.Clone(d.PubKey[1:])
	if len(in.TaprootInternalKey) == 0 {
		in.TaprootInternalKey = xOnly
	}
	if len(in.TaprootBip32Derivation) == 0 {
		in.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          xOnly,
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            slices.Clone(d.Bip32Path),
		}}
	}
}

// hasPartialSig reports whether in holds a signature by pubKey.
func hasPartialSig(in *psbt.PInput, pubKey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// singleSigInput is a resolved single-sig input ready to sign.
type singleSigInput struct {
	idx     int
	kind    ScriptKind
	prevOut *wire.TxOut
	path    keyring.Path
	pubKey  *btcec.PublicKey
}

// resolveSingleSig matches input idx against the signer and its path map.
// It returns false when the input is not ours to sign.
func (e *Engine) resolveSingleSig(packet *psbt.Packet, idx int,
	signer *keyring.Engine,
	inputPaths map[string]keyring.Path) (*singleSigInput, bool, error) {

	kind, prevOut, err := inputKind(packet, idx)
	if err != nil {
		return nil, false, err
	}

	// A P2SH input without a redeem script may still be a nested key
	// hash we can complete below.
	if kind.IsScriptHash() && kind != KindP2SH {
		return nil, false, nil
	}
	if kind == KindP2SH && len(packet.Inputs[idx].RedeemScript) > 0 {
		return nil, false, nil
	}

	address, ok := e.inputAddress(prevOut.PkScript)
	if !ok {
		return nil, false, nil
	}

	path, ok := inputPaths[address]
	if !ok {
		return nil, false, nil
	}

	st, err := keyring.ScriptTypeFromPurpose(path.Purpose)
	if err != nil {
		return nil, false, fmt.Errorf("input %d: %w", idx, err)
	}

	want := kindForScriptType(st)
	if kind == KindP2SH && want == KindP2SHP2WPKH {
		kind = want
	}
	if kind != want {
		return nil, false, fmt.Errorf("%w: input %d is %v, path %v "+
			"derives %v", ErrPathMismatch, idx, kind, path, st)
	}

	pub, err := signer.PubKey(path)
	if err != nil {
		return nil, false, fmt.Errorf("input %d: %w", idx, err)
	}

	addr, err := keyring.AddressForKey(st, pub, e.net)
	if err != nil {
		return nil, false, err
	}
	if addr.EncodeAddress() != address {
		return nil, false, fmt.Errorf("%w: input %d pays %s, path %v "+
			"derives %s", ErrPathMismatch, idx, address, path,
			addr.EncodeAddress())
	}

	return &singleSigInput{
		idx:     idx,
		kind:    kind,
		prevOut: prevOut,
		path:    path,
		pubKey:  pub,
	}, true, nil
}

// Sign signs every input whose address has a path in inputPaths with the
// key the signer derives there. Taproot inputs get a key path Schnorr
// signature with SIGHASH_DEFAULT, the rest an ECDSA SIGHASH_ALL partial
// signature. Inputs without a path are skipped and reported.
func (e *Engine) Sign(packet *psbt.Packet, signer *keyring.Engine,
	inputPaths map[string]keyring.Path) (*SignResult, error) {

	sigHashes, fetcher, err := sigHashContext(packet)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	fingerprint := keyring.ToPSBTFingerprint(signer.Fingerprint())
	result := &SignResult{}

	for idx := range packet.Inputs {
		in := &packet.Inputs[idx]
		if isFinalized(in) {
			result.FinalizedInputs = append(
				result.FinalizedInputs, idx,
			)
			continue
		}

		input, ok, err := e.resolveSingleSig(
			packet, idx, signer, inputPaths,
		)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debugf("No signing path for input %d, skipping", idx)
			result.SkippedInputs = append(result.SkippedInputs, idx)
			continue
		}

		pubBytes := input.pubKey.SerializeCompressed()
		addDerivation(in, &psbt.Bip32Derivation{
			PubKey:               pubBytes,
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            input.path.Components(),
		})

		if input.kind == KindP2TR {
			decorateTaproot(in)
			in.SighashType = txscript.SigHashDefault

			if len(in.TaprootKeySpendSig) > 0 {
				result.SkippedInputs = append(
					result.SkippedInputs, idx,
				)
				continue
			}

			sig, err := e.signTaproot(
				packet, idx, sigHashes, fetcher, signer,
				input.path,
			)
			if err != nil {
				return nil, err
			}
			in.TaprootKeySpendSig = sig

			result.SignedInputs = append(result.SignedInputs, idx)
			continue
		}

		if hasPartialSig(in, pubBytes) {
			result.SkippedInputs = append(result.SkippedInputs, idx)
			continue
		}
		in.SighashType = txscript.SigHashAll

		// The key matched the address, so the program it derives is
		// the one the output commits to.
		if input.kind == KindP2SHP2WPKH && len(in.RedeemScript) == 0 {
			in.RedeemScript, err = keyring.NestedRedeemScript(
				input.pubKey, e.net,
			)
			if err != nil {
				return nil, err
			}
		}

		sig, err := e.signECDSA(packet, input, sigHashes, signer)
		if err != nil {
			return nil, err
		}

		outcome, err := updater.Sign(idx, sig, pubBytes, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("input %d: sign outcome %d", idx,
				outcome)
		}

		result.SignedInputs = append(result.SignedInputs, idx)
	}

	log.Debugf("Signed %d inputs of %v, skipped %d",
		len(result.SignedInputs), packet.UnsignedTx.TxHash(),
		len(result.SkippedInputs))

	return result, nil
}

// signTaproot returns the key path signature of input idx.
func (e *Engine) signTaproot(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes, fetcher txscript.PrevOutputFetcher,
	signer *keyring.Engine, path keyring.Path) ([]byte, error) {

	hash, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, packet.UnsignedTx, idx,
		fetcher,
	)
	if err != nil {
		return nil, fmt.Errorf("input %d: %w", idx, err)
	}

	return signer.SignSchnorr(path, hash)
}

// signECDSA returns the DER signature with sighash flag of a key hash input.
func (e *Engine) signECDSA(packet *psbt.Packet, input *singleSigInput,
	sigHashes *txscript.TxSigHashes,
	signer *keyring.Engine) ([]byte, error) {

	redeemScript := packet.Inputs[input.idx].RedeemScript
	tx := packet.UnsignedTx
	var sig []byte
	err := signer.WithPrivKey(input.path, func(priv *btcec.PrivateKey) error {
		var err error
		switch input.kind {
		case KindP2PKH:
			sig, err = txscript.RawTxInSignature(
				tx, input.idx, input.prevOut.PkScript,
				txscript.SigHashAll, priv,
			)

		case KindP2WPKH:
			sig, err = txscript.RawTxInWitnessSignature(
				tx, sigHashes, input.idx, input.prevOut.Value,
				input.prevOut.PkScript, txscript.SigHashAll,
				priv,
			)

		case KindP2SHP2WPKH:
			sig, err = txscript.RawTxInWitnessSignature(
				tx, sigHashes, input.idx, input.prevOut.Value,
				redeemScript, txscript.SigHashAll, priv,
			)

		default:
			err = fmt.Errorf("%w: %v", ErrUnknownScriptType,
				input.kind)
		}

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("input %d: %w", input.idx, err)
	}

	return sig, nil
}
