// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/pkg/btcunit"
	"github.com/btcsuite/btcmultisig/psbtmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/jessevdk/go-flags"
	"github.com/shopspring/decimal"
)

var (
	errNegativeAmount = errors.New("amount is negative")
	errSubSatoshi     = errors.New("amount has sub-satoshi precision")
)

// satsPerBTC scales a decimal BTC amount to satoshis.
var satsPerBTC = decimal.New(btcutil.SatoshiPerBitcoin, 0)

// parseAmount parses a decimal BTC amount such as "0.0015" exactly.
func parseAmount(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q: %w", s, errNegativeAmount)
	}

	sats := d.Mul(satsPerBTC)
	if !sats.IsInteger() {
		return 0, fmt.Errorf("amount %q: %w", s, errSubSatoshi)
	}

	return btcutil.Amount(sats.IntPart()), nil
}

// parseRecipient parses "address:amount".
func parseRecipient(s string) (psbtmgr.Recipient, error) {
	address, amount, ok := strings.Cut(s, ":")
	if !ok {
		return psbtmgr.Recipient{}, fmt.Errorf("recipient %q: want "+
			"address:amount", s)
	}

	value, err := parseAmount(amount)
	if err != nil {
		return psbtmgr.Recipient{}, err
	}

	return psbtmgr.Recipient{Address: address, Amount: value}, nil
}

// utxoSpec is a wallet output named on the command line.
type utxoSpec struct {
	outPoint wire.OutPoint
	value    btcutil.Amount
	index    uint32
	change   bool
}

// parseUTXO parses "txid:vout:amount:index" with an optional ":change"
// suffix.
func parseUTXO(s string) (utxoSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 && len(parts) != 5 {
		return utxoSpec{}, fmt.Errorf("utxo %q: want "+
			"txid:vout:amount:index[:change]", s)
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return utxoSpec{}, fmt.Errorf("utxo %q: %w", s, err)
	}

	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return utxoSpec{}, fmt.Errorf("utxo %q: vout: %w", s, err)
	}

	value, err := parseAmount(parts[2])
	if err != nil {
		return utxoSpec{}, err
	}

	index, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return utxoSpec{}, fmt.Errorf("utxo %q: index: %w", s, err)
	}

	spec := utxoSpec{
		outPoint: wire.OutPoint{Hash: *hash, Index: uint32(vout)},
		value:    value,
		index:    uint32(index),
	}
	if len(parts) == 5 {
		if parts[4] != "change" {
			return utxoSpec{}, fmt.Errorf("utxo %q: unknown flag %q",
				s, parts[4])
		}
		spec.change = true
	}

	return spec, nil
}

// parsePrevTxs decodes raw transactions and indexes them by txid.
func parsePrevTxs(raw []string) (map[chainhash.Hash]*wire.MsgTx, error) {
	txs := make(map[chainhash.Hash]*wire.MsgTx, len(raw))
	for _, s := range raw {
		b, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("prevtx: %w", err)
		}

		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("prevtx: %w", err)
		}
		txs[tx.TxHash()] = tx
	}

	return txs, nil
}

// readPSBT reads a base64 packet from path, or from stdin for "-".
func readPSBT(path string) (*psbt.Packet, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	return psbtmgr.DecodeBase64(string(data))
}

// writePSBT writes packet as base64 to path, or to stdout when path is
// empty.
func writePSBT(packet *psbt.Packet, path string) error {
	encoded, err := psbtmgr.EncodeBase64(packet)
	if err != nil {
		return err
	}

	if path == "" {
		fmt.Println(encoded)
		return nil
	}

	return os.WriteFile(path, []byte(encoded+"\n"), 0600)
}

type psbtCreateCommand struct {
	Config      string   `long:"config" description:"Wallet file" required:"true"`
	UTXOs       []string `long:"utxo" description:"Output to spend as txid:vout:amount:index[:change]; repeat for each" required:"true"`
	PrevTxs     []string `long:"prevtx" description:"Raw previous transaction in hex, required for bare p2sh; repeat for each"`
	To          []string `long:"to" description:"Recipient as address:amount in BTC; repeat for each" required:"true"`
	FeeRate     string   `long:"fee-rate" description:"Fee rate in sat/vbyte, decimals allowed" default:"1"`
	ChangeIndex uint32   `long:"change-index" description:"Index of the change address"`
	RBF         bool     `long:"rbf" description:"Signal replaceability"`
	LockTime    uint32   `long:"locktime" description:"Transaction lock time"`
	Out         string   `long:"out" description:"File to write the psbt to instead of stdout"`

	cfg *config
}

func (x *psbtCreateCommand) Execute(_ []string) error {
	w, err := x.cfg.loadWallet(x.Config)
	if err != nil {
		return err
	}

	feeRate, err := btcunit.ParseSatPerVByte(x.FeeRate)
	if err != nil {
		return err
	}

	prevTxs, err := parsePrevTxs(x.PrevTxs)
	if err != nil {
		return err
	}

	req := &psbtmgr.CreateRequest{
		FeeRate:   feeRate,
		EnableRBF: x.RBF,
		LockTime:  x.LockTime,
	}

	for _, s := range x.To {
		recipient, err := parseRecipient(s)
		if err != nil {
			return err
		}
		req.Recipients = append(req.Recipients, recipient)
	}

	for _, s := range x.UTXOs {
		spec, err := parseUTXO(s)
		if err != nil {
			return err
		}

		info, err := w.DeriveAddress(spec.index, spec.change)
		if err != nil {
			return err
		}

		req.UTXOs = append(req.UTXOs, psbtmgr.MultisigUTXO(
			w, info, spec.outPoint, spec.value,
			prevTxs[spec.outPoint.Hash],
		))
	}

	change, err := w.DeriveAddress(x.ChangeIndex, true)
	if err != nil {
		return err
	}
	req.ChangeAddress = change.Address
	req.ChangeDerivations = w.Bip32Derivations(change)

	result, err := psbtmgr.New(x.cfg.net).Create(req)
	if err != nil {
		return err
	}

	log.Infof("Created %v: fee=%v vsize=%d", result.Packet.UnsignedTx.
		TxHash(), result.Fee, result.VSize.Uint64())
	log.Tracef("Request: %v", newLogClosure(func() string {
		return spew.Sdump(req)
	}))

	return writePSBT(result.Packet, x.Out)
}

type psbtSignCommand struct {
	PSBT     string `long:"psbt" description:"PSBT file, - for stdin" default:"-"`
	Config   string `long:"config" description:"Multisig wallet file; single-sig inputs are signed without it"`
	Cosigner string `long:"cosigner" description:"Id of the local cosigner; defaults to the key fingerprint"`
	MaxIndex uint32 `long:"max-index" description:"Highest index scanned to find single-sig input paths" default:"100"`
	Out      string `long:"out" description:"File to write the psbt to instead of stdout"`

	cfg *config
}

// singleSigPaths finds the derivation path of every input address that
// belongs to engine.
func singleSigPaths(e *psbtmgr.Engine, packet *psbt.Packet,
	engine *keyring.Engine, maxIndex uint32) (map[string]keyring.Path,
	error) {

	decoded, err := e.Decode(packet)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]keyring.Path)
	for _, in := range decoded.Inputs {
		if in.Address == "" || in.Kind.IsScriptHash() &&
			in.Kind != psbtmgr.KindP2SH {

			continue
		}

		found, err := engine.FindAddress(in.Address, maxIndex)
		if err != nil {
			return nil, err
		}
		found.WhenSome(func(info keyring.AddressInfo) {
			paths[info.Address] = info.Path
		})
	}

	return paths, nil
}

func (x *psbtSignCommand) Execute(_ []string) error {
	packet, err := readPSBT(x.PSBT)
	if err != nil {
		return err
	}

	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	e := psbtmgr.New(x.cfg.net)

	var result *psbtmgr.SignResult
	if x.Config != "" {
		w, err := x.cfg.loadWallet(x.Config)
		if err != nil {
			return err
		}

		id := x.Cosigner
		if id == "" {
			id, err = cosignerByFingerprint(w, engine.Fingerprint())
			if err != nil {
				return err
			}
		}

		if err := w.AttachSigner(id, engine); err != nil {
			return err
		}

		result, err = e.SignMultisig(packet, w, id)
		if err != nil {
			return err
		}
	} else {
		paths, err := singleSigPaths(e, packet, engine, x.MaxIndex)
		if err != nil {
			return err
		}

		result, err = e.Sign(packet, engine, paths)
		if err != nil {
			return err
		}
	}

	log.Infof("Signed inputs %v, skipped %v, already final %v",
		result.SignedInputs, result.SkippedInputs,
		result.FinalizedInputs)

	return writePSBT(packet, x.Out)
}

// cosignerByFingerprint returns the id of the cosigner with fingerprint fp.
func cosignerByFingerprint(w *multisig.Wallet, fp uint32) (string, error) {
	for _, c := range w.Policy().Cosigners {
		if c.Fingerprint == fp {
			return c.ID, nil
		}
	}

	return "", fmt.Errorf("%w: no cosigner with fingerprint %s",
		multisig.ErrCosignerNotFound, keyring.FormatFingerprint(fp))
}

type psbtAnalyzeCommand struct {
	PSBT   string `long:"psbt" description:"PSBT file, - for stdin" default:"-"`
	Config string `long:"config" description:"Wallet file" required:"true"`

	cfg *config
}

func (x *psbtAnalyzeCommand) Execute(_ []string) error {
	packet, err := readPSBT(x.PSBT)
	if err != nil {
		return err
	}

	w, err := x.cfg.loadWallet(x.Config)
	if err != nil {
		return err
	}

	status := psbtmgr.New(x.cfg.net).AnalyzeMultisigSignatures(
		packet, w.Policy(),
	)

	for _, in := range status.Inputs {
		if !in.Multisig {
			fmt.Printf("input %d: not multisig\n", in.Index)
			continue
		}

		fmt.Printf("input %d: %d of %d final=%v\n", in.Index,
			in.Present, in.Required, in.Finalized)
		for _, s := range in.Signers {
			fmt.Printf("  signed by %s (%s, %v)\n", s.CosignerID,
				keyring.FormatFingerprint(s.Fingerprint),
				s.Confidence)
		}
		for _, fp := range in.Missing {
			fmt.Printf("  missing %s\n", keyring.FormatFingerprint(fp))
		}
	}

	for _, c := range status.Cosigners {
		fmt.Printf("cosigner %s: %d inputs\n", c.ID, c.SignedInputs)
	}
	fmt.Printf("can finalize: %v\n", status.CanFinalize)
	if status.Ambiguous {
		fmt.Println("warning: some signers were attributed by count only")
	}

	return nil
}

type psbtFinalizeCommand struct {
	PSBT string `long:"psbt" description:"PSBT file, - for stdin" default:"-"`
	Out  string `long:"out" description:"File to write the psbt to instead of stdout"`

	cfg *config
}

func (x *psbtFinalizeCommand) Execute(_ []string) error {
	packet, err := readPSBT(x.PSBT)
	if err != nil {
		return err
	}

	result, err := psbtmgr.New(x.cfg.net).FinalizeMultisig(packet)
	if err != nil {
		var ferr *psbtmgr.FinalizationError
		if errors.As(err, &ferr) {
			for _, a := range ferr.Attempts {
				log.Errorf("Input %d: %s: %v", ferr.Index,
					a.Strategy, a.Err)
			}
		}

		return err
	}

	for idx, strategy := range result.Strategies {
		log.Debugf("Input %d finalized by %s", idx, strategy)
	}

	return writePSBT(packet, x.Out)
}

type psbtCombineCommand struct {
	Out string `long:"out" description:"File to write the psbt to instead of stdout"`

	cfg *config
}

func (x *psbtCombineCommand) Execute(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("combine needs at least two psbt files")
	}

	packets := make([]*psbt.Packet, 0, len(args))
	for _, path := range args {
		packet, err := readPSBT(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		packets = append(packets, packet)
	}

	combined, err := psbtmgr.New(x.cfg.net).Combine(packets...)
	if err != nil {
		return err
	}

	return writePSBT(combined, x.Out)
}

type psbtExtractCommand struct {
	PSBT string `long:"psbt" description:"PSBT file, - for stdin" default:"-"`

	cfg *config
}

func (x *psbtExtractCommand) Execute(_ []string) error {
	packet, err := readPSBT(x.PSBT)
	if err != nil {
		return err
	}

	raw, txid, err := psbtmgr.Extract(packet)
	if err != nil {
		return err
	}

	log.Infof("Extracted %v", txid)
	fmt.Println(hex.EncodeToString(raw))

	return nil
}

type psbtDecodeCommand struct {
	PSBT string `long:"psbt" description:"PSBT file, - for stdin" default:"-"`

	cfg *config
}

func (x *psbtDecodeCommand) Execute(_ []string) error {
	packet, err := readPSBT(x.PSBT)
	if err != nil {
		return err
	}

	decoded, err := psbtmgr.New(x.cfg.net).Decode(packet)
	if err != nil {
		return err
	}

	fmt.Printf("txid: %v\nversion: %d\nlocktime: %d\n", decoded.TxID,
		decoded.Version, decoded.LockTime)
	for i, in := range decoded.Inputs {
		fmt.Printf("input %d: %v %v %s %v signed=%v final=%v\n", i,
			in.OutPoint, in.Value, in.Address, in.Kind, in.Signed,
			in.Finalized)
	}
	for i, out := range decoded.Outputs {
		fmt.Printf("output %d: %v %s\n", i, out.Value, out.Address)
	}
	decoded.Fee.WhenSome(func(fee btcutil.Amount) {
		fmt.Printf("fee: %v\n", fee)
	})
	fmt.Printf("complete: %v\n", decoded.Complete)

	return nil
}

// registerPSBT adds the psbt command group.
func registerPSBT(parser *flags.Parser, cfg *config) error {
	group, err := parser.AddCommand(
		"psbt", "Create, sign and finalize PSBTs",
		"Work with partially signed transactions of multisig and "+
			"single-sig wallets",
		&struct{}{},
	)
	if err != nil {
		return err
	}

	commands := []struct {
		name, short, long string
		data              any
	}{
		{
			"create", "Create a PSBT",
			"Spend the given wallet outputs to the recipients with " +
				"change back to the wallet",
			&psbtCreateCommand{cfg: cfg},
		},
		{
			"sign", "Sign a PSBT",
			"Sign as a cosigner with --config or as a single-sig " +
				"wallet without it",
			&psbtSignCommand{cfg: cfg},
		},
		{
			"analyze", "Show who signed",
			"Attribute the signatures of each input to the cosigners",
			&psbtAnalyzeCommand{cfg: cfg},
		},
		{
			"finalize", "Finalize a PSBT",
			"Build the final scripts of every input",
			&psbtFinalizeCommand{cfg: cfg},
		},
		{
			"combine", "Combine PSBTs",
			"Merge the signatures of PSBTs for the same transaction",
			&psbtCombineCommand{cfg: cfg},
		},
		{
			"extract", "Extract the transaction",
			"Print the raw transaction of a finalized PSBT",
			&psbtExtractCommand{cfg: cfg},
		},
		{
			"decode", "Describe a PSBT",
			"Print the inputs, outputs and fee of a PSBT",
			&psbtDecodeCommand{cfg: cfg},
		},
	}
	for _, c := range commands {
		_, err := group.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			return err
		}
	}

	return nil
}
