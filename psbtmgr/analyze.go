// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
)

// Confidence is how a signature was attributed to a cosigner.
type Confidence uint8

const (
	// ConfidenceExact means a bip32 derivation names the signing key.
	ConfidenceExact Confidence = iota

	// ConfidenceScriptOrder means the signing key was matched by its
	// position in the script against the order of the derivations.
	ConfidenceScriptOrder

	// ConfidenceBestEffort means the signature was handed to a cosigner
	// that was not matched otherwise. The attribution may be wrong.
	ConfidenceBestEffort
)

// String returns the name of the confidence level.
func (c Confidence) String() string {
	switch c {
	case ConfidenceExact:
		return "exact"

	case ConfidenceScriptOrder:
		return "script-order"

	case ConfidenceBestEffort:
		return "best-effort"

	default:
		return "unknown"
	}
}

// SignerMatch attributes one signature to a cosigner.
type SignerMatch struct {
	CosignerID  string
	Fingerprint uint32
	PubKey      []byte
	Confidence  Confidence
}

// InputSignatureStatus is the signing state of one input.
type InputSignatureStatus struct {
	// Index is the input position.
	Index int

	// Multisig is false for single-sig inputs, which are not counted.
	Multisig bool

	// Finalized inputs count as signed by every cosigner.
	Finalized bool

	// Required is m.
	Required int

	// Present is the number of signatures by script keys.
	Present int

	// Signers are the attributed signatures in script order.
	Signers []SignerMatch

	// Missing are the fingerprints of cosigners without a signature.
	Missing []uint32

	// Ambiguous is set when a signer was attributed by count only.
	Ambiguous bool
}

// CosignerStatus sums up the signatures of one cosigner.
type CosignerStatus struct {
	ID           string
	Fingerprint  uint32
	SignedInputs int

	// Confidence is the weakest attribution of the cosigner.
	Confidence Confidence
}

// SignatureStatus is the signing state of a multisig PSBT.
type SignatureStatus struct {
	Inputs []InputSignatureStatus

	// CanFinalize is set when every multisig input holds m signatures.
	CanFinalize bool

	// Ambiguous is set when any signer was attributed by count only.
	Ambiguous bool

	Cosigners []CosignerStatus
}

// isMultisigInput reports whether an input is spent through a multisig
// script. Inputs whose script is not known yet are recognized by their key
// origins.
func isMultisigInput(in *psbt.PInput) (*multisigScript, bool) {
	if ms, ok := parseMultisigScript(inputScript(in)); ok {
		return ms, true
	}

	return nil, len(in.Bip32Derivation) > 1
}

// finalMultisigScript recovers the multisig script from the final scripts
// of input idx.
func finalMultisigScript(packet *psbt.Packet,
	idx int) (*multisigScript, bool) {

	prevOut, err := prevOutput(packet, idx)
	if err != nil {
		return nil, false
	}

	redeemScript, witnessScript := finalScripts(
		&packet.Inputs[idx], prevOut.PkScript,
	)
	if len(witnessScript) > 0 {
		return parseMultisigScript(witnessScript)
	}

	return parseMultisigScript(redeemScript)
}

// AnalyzeMultisigSignatures attributes the partial signatures of every
// multisig input to the cosigners of policy. Signatures carry only a key, so
// they are resolved through the bip32 derivations first, then through the
// script key order implied by the derivations, and last by handing unmatched
// signatures to unmatched cosigners. The last step is flagged ambiguous.
func (e *Engine) AnalyzeMultisigSignatures(packet *psbt.Packet,
	policy multisig.Policy) *SignatureStatus {

	status := &SignatureStatus{
		Inputs:      make([]InputSignatureStatus, 0, len(packet.Inputs)),
		CanFinalize: true,
		Cosigners:   make([]CosignerStatus, len(policy.Cosigners)),
	}
	for i, c := range policy.Cosigners {
		status.Cosigners[i] = CosignerStatus{
			ID:          c.ID,
			Fingerprint: c.Fingerprint,
		}
	}

	for idx := range packet.Inputs {
		input := analyzeInput(packet, idx, policy)
		status.Inputs = append(status.Inputs, input)

		if !input.Multisig {
			continue
		}
		if input.Present < input.Required {
			status.CanFinalize = false
		}
		status.Ambiguous = status.Ambiguous || input.Ambiguous

		for _, signer := range input.Signers {
			i := slices.IndexFunc(policy.Cosigners,
				func(c multisig.PolicyCosigner) bool {
					return c.Fingerprint == signer.Fingerprint
				},
			)
			if i < 0 {
				continue
			}

			cs := &status.Cosigners[i]
			cs.SignedInputs++
			cs.Confidence = max(cs.Confidence, signer.Confidence)
		}
	}

	log.Debugf("Analyzed %d inputs of %v: can_finalize=%v ambiguous=%v",
		len(packet.Inputs), packet.UnsignedTx.TxHash(),
		status.CanFinalize, status.Ambiguous)

	return status
}

// analyzeInput attributes the signatures of input idx.
func analyzeInput(packet *psbt.Packet, idx int,
	policy multisig.Policy) InputSignatureStatus {

	in := &packet.Inputs[idx]
	status := InputSignatureStatus{Index: idx, Required: policy.M}

	// A finalized input has dropped its partial signatures. It is
	// counted only when its final scripts reveal a multisig script.
	if isFinalized(in) {
		ms, ok := finalMultisigScript(packet, idx)
		if !ok {
			return status
		}

		status.Multisig = true
		status.Finalized = true
		status.Required = ms.m
		status.Present = ms.m
		for _, c := range policy.Cosigners {
			status.Signers = append(status.Signers, SignerMatch{
				CosignerID:  c.ID,
				Fingerprint: c.Fingerprint,
				Confidence:  ConfidenceExact,
			})
		}

		return status
	}

	ms, ok := isMultisigInput(in)
	if !ok {
		return status
	}
	status.Multisig = true

	// Only signatures by script keys count when the script is known.
	var sigKeys [][]byte
	for _, sig := range in.PartialSigs {
		if ms != nil && ms.position(sig.PubKey) < 0 {
			continue
		}
		sigKeys = append(sigKeys, sig.PubKey)
	}
	if ms != nil {
		status.Required = ms.m
		slices.SortFunc(sigKeys, func(a, b []byte) int {
			return ms.position(a) - ms.position(b)
		})
	}
	status.Present = len(sigKeys)

	inPolicy := func(fp uint32) bool {
		return slices.ContainsFunc(policy.Cosigners,
			func(c multisig.PolicyCosigner) bool {
				return c.Fingerprint == fp
			},
		)
	}

	matched := make(map[uint32]bool)
	matches := make([]*SignerMatch, len(sigKeys))

	// Derivations name the signing key directly.
	for i, pub := range sigKeys {
		for _, d := range in.Bip32Derivation {
			fp := keyring.FromPSBTFingerprint(d.MasterKeyFingerprint)
			if !bytes.Equal(d.PubKey, pub) || !inPolicy(fp) ||
				matched[fp] {

				continue
			}

			matches[i] = &SignerMatch{
				Fingerprint: fp,
				PubKey:      pub,
				Confidence:  ConfidenceExact,
			}
			matched[fp] = true

			break
		}
	}

	// The derivations list one key per script position.
	if ms != nil && len(in.Bip32Derivation) == len(ms.pubKeys) {
		for i, pub := range sigKeys {
			if matches[i] != nil {
				continue
			}

			d := in.Bip32Derivation[ms.position(pub)]
			fp := keyring.FromPSBTFingerprint(d.MasterKeyFingerprint)
			if !inPolicy(fp) || matched[fp] {
				continue
			}

			matches[i] = &SignerMatch{
				Fingerprint: fp,
				PubKey:      pub,
				Confidence:  ConfidenceScriptOrder,
			}
			matched[fp] = true
		}
	}

	// Whatever is left goes to the unmatched cosigners by count.
	for i, pub := range sigKeys {
		if matches[i] != nil {
			continue
		}

		for _, c := range policy.Cosigners {
			if matched[c.Fingerprint] {
				continue
			}

			matches[i] = &SignerMatch{
				Fingerprint: c.Fingerprint,
				PubKey:      pub,
				Confidence:  ConfidenceBestEffort,
			}
			matched[c.Fingerprint] = true
			status.Ambiguous = true

			break
		}
	}

	for _, match := range matches {
		if match == nil {
			continue
		}

		for _, c := range policy.Cosigners {
			if c.Fingerprint == match.Fingerprint {
				match.CosignerID = c.ID
			}
		}
		status.Signers = append(status.Signers, *match)
	}

	for _, c := range policy.Cosigners {
		if !matched[c.Fingerprint] {
			status.Missing = append(status.Missing, c.Fingerprint)
		}
	}

	if status.Ambiguous {
		log.Warnf("Input %d: attributed signers by count only", idx)
	}

	return status
}
