// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/store"
	"github.com/jessevdk/go-flags"
)

// storeXpub persists an extended public key when a store is configured.
func storeXpub(cfg *config, walletID string, account uint32,
	xpub string) error {

	info, err := keyring.InspectExtendedKey(xpub)
	if err != nil {
		return err
	}

	return cfg.withStore(func(s store.Store) error {
		return s.PutXpub(context.Background(), store.XpubEntry{
			WalletID: walletID,
			Format:   info.Format.String(),
			Account:  account,
			Xpub:     xpub,
		})
	})
}

// storeDescriptor persists a descriptor when a store is configured.
func storeDescriptor(cfg *config, walletID, desc string, change bool) error {
	return cfg.withStore(func(s store.Store) error {
		return s.PutDescriptor(context.Background(), store.DescriptorEntry{
			WalletID:   walletID,
			Descriptor: desc,
			Change:     change,
		})
	})
}

type deriveCommand struct {
	Purpose uint32 `long:"purpose" description:"BIP43 purpose: 44, 49, 84 or 86" default:"84"`
	Account uint32 `long:"account" description:"Account number"`
	Change  bool   `long:"change" description:"Derive from the internal chain"`
	Index   uint32 `long:"index" description:"First address index"`
	Count   uint32 `long:"count" description:"Number of addresses" default:"1"`

	cfg *config
}

func (x *deriveCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"derive", "Derive single-sig addresses",
		"Derive consecutive addresses of the script type implied by "+
			"--purpose and print their paths",
		x,
	)
	return err
}

func (x *deriveCommand) Execute(_ []string) error {
	st, err := keyring.ScriptTypeFromPurpose(x.Purpose)
	if err != nil {
		return err
	}

	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	addrs, err := engine.DeriveAddresses(
		st, x.Account, x.Change, x.Index, x.Count,
	)
	if err != nil {
		return err
	}

	for _, info := range addrs {
		fmt.Printf("%s %s\n", info.Path, info.Address)
	}

	walletID := x.cfg.walletID(engine.FingerprintHex())

	return x.cfg.withStore(func(s store.Store) error {
		for _, info := range addrs {
			err := s.PutAddress(
				context.Background(),
				store.FromAddressInfo(walletID, info),
			)
			if err != nil {
				return err
			}
		}

		log.Infof("Stored %d addresses for %s", len(addrs), walletID)

		return nil
	})
}

type xpubCommand struct {
	Type    string `long:"type" description:"Script type: p2pkh, p2sh-p2wpkh, p2wpkh or p2tr" default:"p2wpkh"`
	Account uint32 `long:"account" description:"Account number"`

	cfg *config
}

func (x *xpubCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"xpub", "Print a single-sig account xpub",
		"Print the account extended public key with the SLIP-132 "+
			"prefix of the script type",
		x,
	)
	return err
}

func (x *xpubCommand) Execute(_ []string) error {
	st, err := keyring.ParseScriptType(x.Type)
	if err != nil {
		return err
	}

	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	xpub, err := engine.ExtendedPublicKey(st, x.Account)
	if err != nil {
		return err
	}

	fmt.Println(xpub)

	return storeXpub(
		x.cfg, x.cfg.walletID(engine.FingerprintHex()), x.Account, xpub,
	)
}

type msXpubCommand struct {
	Type    string `long:"type" description:"Multisig type: p2sh, p2sh-p2wsh or p2wsh" default:"p2wsh"`
	Account uint32 `long:"account" description:"Account number"`

	cfg *config
}

func (x *msXpubCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"msxpub", "Print a BIP48 multisig account xpub",
		"Print the key to hand to the other cosigners together with "+
			"the fingerprint and path",
		x,
	)
	return err
}

func (x *msXpubCommand) Execute(_ []string) error {
	mt, err := keyring.ParseMultisigType(x.Type)
	if err != nil {
		return err
	}

	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	xpub, err := engine.MultisigXpub(mt, x.Account)
	if err != nil {
		return err
	}

	fmt.Printf("fingerprint: %s\n", engine.FingerprintHex())
	fmt.Printf("path: %s\n", keyring.FormatDerivationPath(
		engine.MultisigPath(mt, x.Account),
	))
	fmt.Printf("xpub: %s\n", xpub)

	return storeXpub(
		x.cfg, x.cfg.walletID(engine.FingerprintHex()), x.Account, xpub,
	)
}

type descriptorCommand struct {
	Type    string `long:"type" description:"Script type: p2pkh, p2sh-p2wpkh, p2wpkh or p2tr" default:"p2wpkh"`
	Account uint32 `long:"account" description:"Account number"`
	Change  bool   `long:"change" description:"Describe the internal chain"`

	cfg *config
}

func (x *descriptorCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"descriptor", "Print a single-sig output descriptor",
		"Print the checksummed output descriptor of one account chain",
		x,
	)
	return err
}

func (x *descriptorCommand) Execute(_ []string) error {
	st, err := keyring.ParseScriptType(x.Type)
	if err != nil {
		return err
	}

	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	desc, err := engine.OutputDescriptor(st, x.Account, x.Change)
	if err != nil {
		return err
	}

	fmt.Println(desc)

	return storeDescriptor(
		x.cfg, x.cfg.walletID(engine.FingerprintHex()), desc, x.Change,
	)
}

type findCommand struct {
	Address  string `long:"address" description:"Address to look for" required:"true"`
	MaxIndex uint32 `long:"max-index" description:"Highest index to scan on each chain" default:"100"`

	cfg *config
}

func (x *findCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"find", "Find the path of an address",
		"Scan account 0 of every script type for the address",
		x,
	)
	return err
}

func (x *findCommand) Execute(_ []string) error {
	engine, err := x.cfg.loadEngine()
	if err != nil {
		return err
	}
	defer engine.Destroy()

	found, err := engine.FindAddress(x.Address, x.MaxIndex)
	if err != nil {
		return err
	}

	if found.IsNone() {
		return fmt.Errorf("address %s not found up to index %d",
			x.Address, x.MaxIndex)
	}

	found.WhenSome(func(info keyring.AddressInfo) {
		fmt.Printf("%s %s %v\n", info.Path, info.Address,
			info.ScriptType)
	})

	return nil
}
