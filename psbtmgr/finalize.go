// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Finalization strategies in the order they are tried.
const (
	StrategyPSBT      = "psbt"
	StrategyP2WSH     = "p2wsh"
	StrategyP2SHP2WSH = "p2sh-p2wsh"
	StrategyP2SH      = "p2sh"
)

// errStrategyMismatch is returned by a strategy that does not apply to the
// input.
var errStrategyMismatch = errors.New("strategy does not apply to input")

// StrategyAttempt is one failed finalization strategy.
type StrategyAttempt struct {
	Strategy string
	Err      error
}

// FinalizationError is returned when no strategy could finalize an input.
// It carries every attempt for diagnostics.
type FinalizationError struct {
	Index    int
	Attempts []StrategyAttempt
}

// Error implements the error interface.
func (e *FinalizationError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}

	return fmt.Sprintf("input %d: %v (%s)", e.Index, ErrFinalizationFailure,
		strings.Join(parts, "; "))
}

// Unwrap returns ErrFinalizationFailure.
func (e *FinalizationError) Unwrap() error {
	return ErrFinalizationFailure
}

// FinalizeResult reports how each input was finalized.
type FinalizeResult struct {
	// Strategies maps the inputs finalized by this call to the strategy
	// that succeeded.
	Strategies map[int]string

	// Complete is set when every input of the packet is finalized.
	Complete bool
}

// clonePacket returns a deep copy of packet.
func clonePacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(&buf, false)
}

// scriptSigs returns the partial signatures of in by keys of ms, ordered by
// key position in the script.
func scriptSigs(in *psbt.PInput, ms *multisigScript) []*psbt.PartialSig {
	sigs := make([]*psbt.PartialSig, 0, len(in.PartialSigs))
	for _, sig := range in.PartialSigs {
		if ms.position(sig.PubKey) >= 0 {
			sigs = append(sigs, sig)
		}
	}

	slices.SortStableFunc(sigs, func(a, b *psbt.PartialSig) int {
		return ms.position(a.PubKey) - ms.position(b.PubKey)
	})

	return sigs
}

// pendingInput is a multisig input ready for finalization.
type pendingInput struct {
	idx  int
	ms   *multisigScript
	sigs []*psbt.PartialSig
}

// checkThresholds returns the multisig inputs of packet that are not
// finalized yet, failing if any of them holds fewer than m signatures.
func checkThresholds(packet *psbt.Packet) ([]pendingInput, error) {
	var pending []pendingInput
	for idx := range packet.Inputs {
		in := &packet.Inputs[idx]
		if isFinalized(in) {
			continue
		}

		ms, ok := isMultisigInput(in)
		if !ok {
			continue
		}
		if ms == nil {
			return nil, fmt.Errorf("%w: multisig input %d has no "+
				"script", ErrMissingUtxoData, idx)
		}

		sigs := scriptSigs(in, ms)
		if len(sigs) < ms.m {
			return nil, fmt.Errorf("%w: input %d has %d of %d",
				ErrInsufficientSignatures, idx, len(sigs), ms.m)
		}

		pending = append(pending, pendingInput{
			idx: idx, ms: ms, sigs: sigs[:ms.m],
		})
	}

	return pending, nil
}

// FinalizeMultisig finalizes every input of packet. Multisig inputs are
// trimmed to m signatures in script order and tried with the general
// finalizer first, then with the P2WSH, P2SH-P2WSH and bare P2SH
// constructors. Single-sig inputs use the general finalizer. If any
// multisig input lacks signatures or any input fails, packet is left as it
// was.
func (e *Engine) FinalizeMultisig(packet *psbt.Packet) (*FinalizeResult,
	error) {

	pending, err := checkThresholds(packet)
	if err != nil {
		return nil, err
	}

	clone, err := clonePacket(packet)
	if err != nil {
		return nil, err
	}

	result := &FinalizeResult{Strategies: make(map[int]string)}
	for idx := range clone.Inputs {
		if isFinalized(&clone.Inputs[idx]) {
			continue
		}

		i := slices.IndexFunc(pending, func(p pendingInput) bool {
			return p.idx == idx
		})
		if i < 0 {
			if err := psbt.Finalize(clone, idx); err != nil {
				return nil, &FinalizationError{
					Index: idx,
					Attempts: []StrategyAttempt{{
						Strategy: StrategyPSBT,
						Err:      err,
					}},
				}
			}
			result.Strategies[idx] = StrategyPSBT

			continue
		}

		strategy, err := finalizeMultisigInput(clone, pending[i])
		if err != nil {
			return nil, err
		}
		result.Strategies[idx] = strategy
	}

	*packet = *clone
	result.Complete = packet.IsComplete()

	log.Debugf("Finalized %d inputs of %v, complete=%v",
		len(result.Strategies), packet.UnsignedTx.TxHash(),
		result.Complete)

	return result, nil
}

// multisigFinalizer builds the final scripts of one multisig input.
type multisigFinalizer func(packet *psbt.Packet, p pendingInput) error

// finalizeMultisigInput runs the strategies on one input until one works.
func finalizeMultisigInput(packet *psbt.Packet,
	p pendingInput) (string, error) {

	in := &packet.Inputs[p.idx]

	// Keep only the signatures CHECKMULTISIG will consume.
	in.PartialSigs = make([]*psbt.PartialSig, 0, len(p.sigs))
	for _, sig := range p.sigs {
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    slices.Clone(sig.PubKey),
			Signature: slices.Clone(sig.Signature),
		})
	}

	strategies := []struct {
		name string
		fn   multisigFinalizer
	}{
		{StrategyPSBT, finalizeGeneral},
		{StrategyP2WSH, finalizeP2WSH},
		{StrategyP2SHP2WSH, finalizeP2SHP2WSH},
		{StrategyP2SH, finalizeP2SH},
	}

	ferr := &FinalizationError{Index: p.idx}
	for _, s := range strategies {
		err := s.fn(packet, p)
		if err == nil {
			log.Tracef("Input %d finalized by %s", p.idx, s.name)
			return s.name, nil
		}

		log.Debugf("Input %d: strategy %s failed: %v", p.idx, s.name,
			err)
		ferr.Attempts = append(ferr.Attempts, StrategyAttempt{
			Strategy: s.name,
			Err:      err,
		})
	}

	return "", ferr
}

// finalizeGeneral uses the psbt package finalizer.
func finalizeGeneral(packet *psbt.Packet, p pendingInput) error {
	return psbt.Finalize(packet, p.idx)
}

// multisigWitness returns [empty, sig1..sigm, script].
func multisigWitness(p pendingInput, script []byte) wire.TxWitness {
	witness := make(wire.TxWitness, 0, len(p.sigs)+2)

	// CHECKMULTISIG pops one element more than it uses.
	witness = append(witness, nil)
	for _, sig := range p.sigs {
		witness = append(witness, sig.Signature)
	}

	return append(witness, script)
}

// checkKind classifies the input and checks it against want.
func checkKind(packet *psbt.Packet, idx int, want ScriptKind) error {
	kind, _, err := inputKind(packet, idx)
	if err != nil {
		return err
	}
	if kind != want {
		return fmt.Errorf("%w: input is %v", errStrategyMismatch, kind)
	}

	return nil
}

// setFinal stores the final scripts and drops the fields a finalized input
// must not carry.
func setFinal(in *psbt.PInput, scriptSig []byte,
	witness wire.TxWitness) error {

	var witnessBytes []byte
	if len(witness) > 0 {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, witness); err != nil {
			return err
		}
		witnessBytes = buf.Bytes()
	}

	in.FinalScriptSig = scriptSig
	in.FinalScriptWitness = witnessBytes
	in.PartialSigs = nil
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil

	return nil
}

// finalizeP2WSH builds the witness of a native P2WSH input.
func finalizeP2WSH(packet *psbt.Packet, p pendingInput) error {
	if err := checkKind(packet, p.idx, KindP2WSH); err != nil {
		return err
	}

	in := &packet.Inputs[p.idx]

	return setFinal(in, nil, multisigWitness(p, in.WitnessScript))
}

// finalizeP2SHP2WSH builds the witness and the program push of a nested
// P2WSH input.
func finalizeP2SHP2WSH(packet *psbt.Packet, p pendingInput) error {
	if err := checkKind(packet, p.idx, KindP2SHP2WSH); err != nil {
		return err
	}

	in := &packet.Inputs[p.idx]
	scriptSig, err := txscript.NewScriptBuilder().
		AddData(in.RedeemScript).
		Script()
	if err != nil {
		return err
	}

	return setFinal(in, scriptSig, multisigWitness(p, in.WitnessScript))
}

// finalizeP2SH builds OP_0 <sig1..sigm> <redeem script> for a bare P2SH
// input.
func finalizeP2SH(packet *psbt.Packet, p pendingInput) error {
	if err := checkKind(packet, p.idx, KindP2SH); err != nil {
		return err
	}

	in := &packet.Inputs[p.idx]
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, sig := range p.sigs {
		builder.AddData(sig.Signature)
	}
	scriptSig, err := builder.AddData(in.RedeemScript).Script()
	if err != nil {
		return err
	}

	return setFinal(in, scriptSig, nil)
}

// Finalize finalizes every input with the general finalizer. It suits
// packets without multisig inputs. packet is left as it was on failure.
func (e *Engine) Finalize(packet *psbt.Packet) error {
	clone, err := clonePacket(packet)
	if err != nil {
		return err
	}

	if err := psbt.MaybeFinalizeAll(clone); err != nil {
		return fmt.Errorf("%w: %v", ErrFinalizationFailure, err)
	}

	*packet = *clone

	return nil
}
