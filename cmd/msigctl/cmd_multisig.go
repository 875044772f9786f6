// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/store"
	"github.com/jessevdk/go-flags"
)

// multisigWalletID names the records of a multisig wallet by its policy.
func multisigWalletID(cfg *config, w *multisig.Wallet) string {
	fps := w.Policy().Fingerprints()
	parts := make([]string, 0, len(fps))
	for _, fp := range fps {
		parts = append(parts, keyring.FormatFingerprint(fp))
	}

	return cfg.walletID(fmt.Sprintf("%d-of-%d-%v-%s", w.M(), w.N(),
		w.ScriptType(), strings.Join(parts, "-")))
}

// parseCosigner parses "fingerprint:xpub" or "fingerprint:path:xpub".
func parseCosigner(s string) (multisig.CosignerInfo, error) {
	parts := strings.Split(s, ":")

	var info multisig.CosignerInfo
	switch len(parts) {
	case 2:
		info.Xpub = parts[1]

	case 3:
		path, err := keyring.ParseDerivationPath(parts[1])
		if err != nil {
			return info, err
		}
		info.Path = path
		info.Xpub = parts[2]

	default:
		return info, fmt.Errorf("cosigner %q: want fingerprint:xpub "+
			"or fingerprint:path:xpub", s)
	}

	fp, err := keyring.ParseFingerprint(parts[0])
	if err != nil {
		return info, err
	}
	info.Fingerprint = fp

	return info, nil
}

type multisigCreateCommand struct {
	M         int      `long:"m" description:"Required signatures" required:"true"`
	N         int      `long:"n" description:"Number of cosigners" required:"true"`
	Type      string   `long:"type" description:"Multisig type: p2sh, p2sh-p2wsh or p2wsh" default:"p2wsh"`
	Unsorted  bool     `long:"unsorted" description:"Keep keys in cosigner order instead of sortedmulti"`
	Cosigners []string `long:"cosigner" description:"Cosigner as fingerprint:xpub or fingerprint:path:xpub; repeat for each"`
	Out       string   `long:"out" description:"Wallet file to write" required:"true"`

	cfg *config
}

func (x *multisigCreateCommand) Execute(_ []string) error {
	mt, err := keyring.ParseMultisigType(x.Type)
	if err != nil {
		return err
	}

	w := multisig.Create(x.M, x.N, mt, !x.Unsorted, x.cfg.net)
	for _, s := range x.Cosigners {
		info, err := parseCosigner(s)
		if err != nil {
			return err
		}
		if err := w.AddCosigner(info); err != nil {
			return err
		}
	}

	result := w.Validate()
	for _, issue := range result.Issues {
		log.Warnf("Policy issue: %v", issue)
	}
	if !result.Valid() && w.IsComplete() {
		return result.Err()
	}

	data, err := w.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(x.Out, data, 0600); err != nil {
		return err
	}

	fmt.Printf("wrote %d-of-%d %v wallet with %d cosigners to %s\n",
		x.M, x.N, mt, len(w.Cosigners()), x.Out)

	return nil
}

type multisigAddressCommand struct {
	Config string `long:"config" description:"Wallet file" required:"true"`
	Index  uint32 `long:"index" description:"First address index"`
	Change bool   `long:"change" description:"Derive change addresses"`
	Count  uint32 `long:"count" description:"Number of addresses" default:"1"`

	cfg *config
}

func (x *multisigAddressCommand) Execute(_ []string) error {
	w, err := x.cfg.loadWallet(x.Config)
	if err != nil {
		return err
	}

	addrs, err := w.DeriveAddresses(x.Change, x.Index, x.Count)
	if err != nil {
		return err
	}

	for _, info := range addrs {
		fmt.Printf("%d %s\n", info.Index, info.Address)
	}

	walletID := multisigWalletID(x.cfg, w)

	return x.cfg.withStore(func(s store.Store) error {
		for _, info := range addrs {
			err := s.PutAddress(
				context.Background(),
				store.FromMultisigAddress(walletID, info),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

type multisigDescriptorCommand struct {
	Config string `long:"config" description:"Wallet file" required:"true"`
	Change bool   `long:"change" description:"Describe the change chain"`

	cfg *config
}

func (x *multisigDescriptorCommand) Execute(_ []string) error {
	w, err := x.cfg.loadWallet(x.Config)
	if err != nil {
		return err
	}

	desc, err := w.Descriptor(x.Change)
	if err != nil {
		return err
	}

	fmt.Println(desc)

	return storeDescriptor(x.cfg, multisigWalletID(x.cfg, w), desc, x.Change)
}

type multisigInfoCommand struct {
	Config string `long:"config" description:"Wallet file" required:"true"`

	cfg *config
}

func (x *multisigInfoCommand) Execute(_ []string) error {
	w, err := x.cfg.loadWallet(x.Config)
	if err != nil {
		return err
	}

	fmt.Printf("policy: %d-of-%d %v sorted=%v\n", w.M(), w.N(),
		w.ScriptType(), w.SortedKeys())
	for _, c := range w.Cosigners() {
		fmt.Printf("cosigner %s: %s %s %s\n", c.ID,
			keyring.FormatFingerprint(c.Fingerprint),
			keyring.FormatDerivationPath(c.Path), c.Xpub)
	}

	for _, issue := range w.Validate().Issues {
		fmt.Printf("issue: %v\n", issue)
	}

	return nil
}

// registerMultisig adds the multisig command group.
func registerMultisig(parser *flags.Parser, cfg *config) error {
	group, err := parser.AddCommand(
		"multisig", "Manage multisig wallets",
		"Create multisig wallet files and derive their addresses and "+
			"descriptors",
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
			"create", "Create a wallet file",
			"Build a wallet from the cosigner xpubs and write its " +
				"export to --out",
			&multisigCreateCommand{cfg: cfg},
		},
		{
			"address", "Derive addresses",
			"Derive multisig addresses from a wallet file",
			&multisigAddressCommand{cfg: cfg},
		},
		{
			"descriptor", "Print the output descriptor",
			"Print the sortedmulti or multi descriptor of one chain",
			&multisigDescriptorCommand{cfg: cfg},
		},
		{
			"info", "Show the policy",
			"Print the policy, the cosigners and any policy issue",
			&multisigInfoCommand{cfg: cfg},
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
