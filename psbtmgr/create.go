// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbtmgr builds, signs, combines and finalizes BIP174 partially
// signed transactions for single-sig key engines and multisig wallets.
package psbtmgr

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/pkg/btcunit"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/davecgh/go-spew/spew"
)

const (
	// txVersion is the version of created transactions.
	txVersion = 2

	// p2wpkhScriptSize is the output script size used to judge dust when
	// no change script is known.
	p2wpkhScriptSize = 22
)

// p2wpkhPlaceholder returns a zero-hash P2WPKH script, used to size an
// output that has no known script.
func p2wpkhPlaceholder() []byte {
	script := make([]byte, p2wpkhScriptSize)
	script[0] = txscript.OP_0
	script[1] = txscript.OP_DATA_20

	return script
}

// isDust reports whether an output of the given amount paying to script
// would be rejected as dust under the default relay policy.
func isDust(amt btcutil.Amount, script []byte) bool {
	return txrules.IsDustOutput(
		wire.NewTxOut(int64(amt), script), txrules.DefaultRelayFeePerKb,
	)
}

// Engine builds and processes PSBTs for one network. It holds no other
// state and is safe for concurrent use.
type Engine struct {
	net *chaincfg.Params
}

// New returns an engine for net.
func New(net *chaincfg.Params) *Engine {
	return &Engine{net: net}
}

// Net returns the network of the engine.
func (e *Engine) Net() *chaincfg.Params {
	return e.net
}

// Recipient is one payment output.
type Recipient struct {
	Address string
	Amount  btcutil.Amount
}

// UTXO is an output to spend together with what is known about it.
type UTXO struct {
	// OutPoint is the output being spent.
	OutPoint wire.OutPoint

	// Value is the amount of the output. It may be left zero when PrevTx
	// is set.
	Value btcutil.Amount

	// PkScript is the output script. It may be left empty when PrevTx
	// is set.
	PkScript []byte

	// RedeemScript is the P2SH redeem script of wrapped outputs.
	RedeemScript []byte

	// WitnessScript is the script committed to by P2WSH outputs.
	WitnessScript []byte

	// PrevTx is the full previous transaction. Legacy outputs require it.
	// For segwit and taproot outputs it is only checked against the
	// outpoint and never attached to the packet.
	PrevTx *wire.MsgTx

	// Derivations are the key origins of the keys that may sign.
	Derivations []*psbt.Bip32Derivation
}

// MultisigUTXO returns the UTXO of a multisig wallet output with scripts and
// key origins filled from info. prevTx is required for bare P2SH wallets.
func MultisigUTXO(w *multisig.Wallet, info *multisig.AddressInfo,
	outPoint wire.OutPoint, value btcutil.Amount,
	prevTx *wire.MsgTx) UTXO {

	return UTXO{
		OutPoint:      outPoint,
		Value:         value,
		PkScript:      slices.Clone(info.PkScript),
		RedeemScript:  slices.Clone(info.RedeemScript),
		WitnessScript: slices.Clone(info.WitnessScript),
		PrevTx:        prevTx,
		Derivations:   w.Bip32Derivations(info),
	}
}

// CreateRequest describes the transaction to create.
type CreateRequest struct {
	// Recipients are paid in order.
	Recipients []Recipient

	// UTXOs are all spent, no coin selection is done.
	UTXOs []UTXO

	// FeeRate is the target fee rate.
	FeeRate btcunit.SatPerVByte

	// ChangeAddress receives the remainder. It may be empty when the
	// remainder is dust.
	ChangeAddress string

	// ChangeDerivations are attached to the change output so signers can
	// recognize it.
	ChangeDerivations []*psbt.Bip32Derivation

	// EnableRBF signals BIP125 replaceability.
	EnableRBF bool

	// LockTime is the transaction lock time.
	LockTime uint32
}

// CreateResult is a funded, unsigned PSBT.
type CreateResult struct {
	// Packet is the new PSBT.
	Packet *psbt.Packet

	// Fee is the absolute fee, including dust change that was dropped.
	Fee btcutil.Amount

	// VSize is the estimated vsize of the signed transaction.
	VSize btcunit.VByte

	// ChangeIndex is the position of the change output, or -1.
	ChangeIndex int

	// Kinds are the script kinds of the inputs in order.
	Kinds []ScriptKind
}

// resolveUTXO checks u against the UTXO rules and returns its previous
// output and kind.
func resolveUTXO(u *UTXO) (*wire.TxOut, ScriptKind, error) {
	prevOut := &wire.TxOut{Value: int64(u.Value), PkScript: u.PkScript}

	if u.PrevTx != nil {
		if u.PrevTx.TxHash() != u.OutPoint.Hash {
			return nil, KindUnknown, fmt.Errorf("%w: %v",
				ErrPrevTxMismatch, u.OutPoint)
		}

		index := u.OutPoint.Index
		if int(index) >= len(u.PrevTx.TxOut) {
			return nil, KindUnknown, fmt.Errorf("%w: %v has no "+
				"output %d", ErrPrevTxMismatch, u.OutPoint.Hash,
				index)
		}

		out := u.PrevTx.TxOut[index]
		if len(prevOut.PkScript) == 0 {
			prevOut.PkScript = out.PkScript
		}
		if prevOut.Value == 0 {
			prevOut.Value = out.Value
		}

		if !bytes.Equal(prevOut.PkScript, out.PkScript) ||
			prevOut.Value != out.Value {

			return nil, KindUnknown, fmt.Errorf("%w: %v output "+
				"differs", ErrPrevTxMismatch, u.OutPoint)
		}
	}

	if len(prevOut.PkScript) == 0 || prevOut.Value <= 0 {
		return nil, KindUnknown, fmt.Errorf("%w: %v has no script or "+
			"value", ErrMissingUtxoData, u.OutPoint)
	}

	kind, err := ClassifyInput(
		prevOut.PkScript, u.RedeemScript, u.WitnessScript,
	)
	if err != nil {
		return nil, KindUnknown, fmt.Errorf("%v: %w", u.OutPoint, err)
	}

	switch {
	case kind.IsLegacy() && u.PrevTx == nil:
		return nil, KindUnknown, fmt.Errorf("%w: %v %v",
			ErrMissingRawTxForLegacyInput, kind, u.OutPoint)

	case kind == KindP2SH && len(u.RedeemScript) == 0:
		return nil, KindUnknown, fmt.Errorf("%w: %v needs a redeem "+
			"script", ErrMissingUtxoData, u.OutPoint)

	case (kind == KindP2WSH || kind == KindP2SHP2WSH) &&
		len(u.WitnessScript) == 0:

		return nil, KindUnknown, fmt.Errorf("%w: %v needs a witness "+
			"script", ErrMissingUtxoData, u.OutPoint)
	}

	return prevOut, kind, nil
}

func cloneDerivations(ds []*psbt.Bip32Derivation) []*psbt.Bip32Derivation {
	if ds == nil {
		return nil
	}

	out := make([]*psbt.Bip32Derivation, len(ds))
	for i, d := range ds {
		out[i] = &psbt.Bip32Derivation{
			PubKey:               slices.Clone(d.PubKey),
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            slices.Clone(d.Bip32Path),
		}
	}

	return out
}

// newInput decorates a PSBT input for u.
func newInput(u *UTXO, prevOut *wire.TxOut, kind ScriptKind) psbt.PInput {
	in := psbt.PInput{
		RedeemScript:    slices.Clone(u.RedeemScript),
		WitnessScript:   slices.Clone(u.WitnessScript),
		Bip32Derivation: cloneDerivations(u.Derivations),
		SighashType:     txscript.SigHashAll,
	}

	// Legacy inputs carry only the full previous transaction and
	// segwit inputs only the spent output.
	if kind.IsLegacy() {
		in.NonWitnessUtxo = u.PrevTx.Copy()
	} else {
		in.WitnessUtxo = wire.NewTxOut(
			prevOut.Value, slices.Clone(prevOut.PkScript),
		)
	}

	if kind == KindP2TR {
		in.SighashType = txscript.SigHashDefault
		decorateTaproot(&in)
	}

	return in
}

// decodeAddress decodes an address of the engine network.
func (e *Engine) decodeAddress(address string) (btcutil.Address, []byte,
	error) {

	addr, err := btcutil.DecodeAddress(address, e.net)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %q: %w", address, err)
	}

	if !addr.IsForNet(e.net) {
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongNetwork, address)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}

	return addr, pkScript, nil
}

// Create builds an unsigned PSBT spending every UTXO of req to its
// recipients. The fee is ceil(vsize * rate) for the estimated vsize of the
// signed transaction. Change below the dust limit is left to the fee.
func (e *Engine) Create(req *CreateRequest) (*CreateResult, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(req.UTXOs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInsufficientFunds)
	}

	outputs := make([]*wire.TxOut, 0, len(req.Recipients)+1)
	var totalOut btcutil.Amount
	for _, r := range req.Recipients {
		_, pkScript, err := e.decodeAddress(r.Address)
		if err != nil {
			return nil, err
		}

		out := wire.NewTxOut(int64(r.Amount), pkScript)
		err = txrules.CheckOutput(out, txrules.DefaultRelayFeePerKb)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", r.Address, err)
		}

		outputs = append(outputs, out)
		totalOut += r.Amount
	}

	var (
		totalIn btcutil.Amount
		inputs  = make([]psbt.PInput, 0, len(req.UTXOs))
		sized   = make([]sizedInput, 0, len(req.UTXOs))
		kinds   = make([]ScriptKind, 0, len(req.UTXOs))
	)
	for i := range req.UTXOs {
		u := &req.UTXOs[i]

		prevOut, kind, err := resolveUTXO(u)
		if err != nil {
			return nil, err
		}

		totalIn += btcutil.Amount(prevOut.Value)
		inputs = append(inputs, newInput(u, prevOut, kind))
		sized = append(sized, sizedInput{
			kind:   kind,
			script: slices.Clone(u.WitnessScript),
		})
		if kind == KindP2SH {
			sized[len(sized)-1].script = u.RedeemScript
		}
		kinds = append(kinds, kind)
	}

	vsize, err := estimateVSize(sized, outputs, 0)
	if err != nil {
		return nil, err
	}
	fee := req.FeeRate.FeeForVByte(vsize)

	if totalIn < totalOut+fee {
		return nil, fmt.Errorf("%w: inputs %v, outputs %v, fee %v",
			ErrInsufficientFunds, totalIn, totalOut, fee)
	}

	changeIndex := -1
	surplus := totalIn - totalOut - fee

	if req.ChangeAddress != "" {
		_, changeScript, err := e.decodeAddress(req.ChangeAddress)
		if err != nil {
			return nil, err
		}

		withChange, err := estimateVSize(
			sized, outputs, len(changeScript),
		)
		if err != nil {
			return nil, err
		}
		changeFee := req.FeeRate.FeeForVByte(withChange)
		change := totalIn - totalOut - changeFee

		if change > 0 && !isDust(change, changeScript) {
			changeIndex = len(outputs)
			outputs = append(outputs, wire.NewTxOut(
				int64(change), changeScript,
			))
			vsize, fee = withChange, changeFee
		} else {
			log.Debugf("Dropping dust change of %v into the fee",
				change)
		}
	} else if !isDust(surplus, p2wpkhPlaceholder()) {

		return nil, fmt.Errorf("%w: %v left over", ErrMissingChangeAddress,
			surplus)
	}

	if changeIndex < 0 {
		fee = totalIn - totalOut
	}

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = req.LockTime
	sequence := multisig.InputSequence(req.EnableRBF, req.LockTime)
	for _, u := range req.UTXOs {
		txIn := wire.NewTxIn(&u.OutPoint, nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	copy(packet.Inputs, inputs)

	if changeIndex >= 0 {
		packet.Outputs[changeIndex].Bip32Derivation =
			cloneDerivations(req.ChangeDerivations)
	}

	if err := packet.SanityCheck(); err != nil {
		return nil, fmt.Errorf("created invalid psbt: %w", err)
	}

	log.Debugf("Created PSBT %v spending %d inputs (%v) to %d outputs, "+
		"fee=%v vsize=%v rate=%v", tx.TxHash(), len(tx.TxIn), totalIn,
		len(tx.TxOut), fee, vsize, req.FeeRate)
	log.Tracef("Created PSBT: %v", newLogClosure(func() string {
		return spew.Sdump(packet)
	}))

	return &CreateResult{
		Packet:      packet,
		Fee:         fee,
		VSize:       vsize,
		ChangeIndex: changeIndex,
		Kinds:       kinds,
	}, nil
}
