// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package multisig models an m-of-n multisig wallet built from cosigner
// extended public keys. It derives the multisig scripts and addresses of the
// wallet, its output descriptors and the metadata a PSBT signer needs, and
// never holds private keys itself except through an attached local engine.
package multisig

import (
	"fmt"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcmultisig/keyring"
)

const (
	// MaxCosigners is the largest n a standard multisig script allows.
	MaxCosigners = 15

	// MinCosigners is the smallest n of a multisig wallet.
	MinCosigners = 2
)

// CosignerInfo describes one participant of the wallet.
type CosignerInfo struct {
	// ID identifies the cosigner within the wallet.
	ID string

	// Name is a display name.
	Name string

	// Fingerprint is the master key fingerprint of the cosigner, big
	// endian.
	Fingerprint uint32

	// Xpub is the BIP48 account extended public key in any recognized
	// SLIP-132 format.
	Xpub string

	// Path is the derivation path from the cosigner master key to Xpub.
	// An empty path defaults to m/48'/coin'/0'/type'.
	Path []uint32

	// Local is true when the cosigner can sign on this device.
	Local bool
}

// Config is a complete serialized wallet policy.
type Config struct {
	M          int
	N          int
	ScriptType keyring.MultisigType
	SortedKeys bool
	Net        *chaincfg.Params
	Cosigners  []CosignerInfo
}

// cosigner is the parsed form of a CosignerInfo.
type cosigner struct {
	info CosignerInfo

	// node is the public account node parsed from info.Xpub.
	node *hdkeychain.ExtendedKey

	// chains caches the receive and change nodes below node.
	chains [2]*hdkeychain.ExtendedKey

	// signer is the attached local engine, if any.
	signer *keyring.Engine
}

// chainNode returns the node of the receive or change chain.
func (c *cosigner) chainNode(chain uint32) (*hdkeychain.ExtendedKey, error) {
	if c.chains[chain] != nil {
		return c.chains[chain], nil
	}

	node, err := c.node.Derive(chain)
	if err != nil {
		return nil, fmt.Errorf("cosigner %s chain %d: %w", c.info.ID,
			chain, err)
	}
	c.chains[chain] = node

	return node, nil
}

// Wallet is an m-of-n multisig wallet. The policy (m, n, script type and key
// sorting) is fixed at creation, the cosigner list may change until n
// cosigners are present.
//
// A Wallet is safe for concurrent use.
type Wallet struct {
	m          int
	n          int
	scriptType keyring.MultisigType
	sortedKeys bool
	net        *chaincfg.Params

	mu        sync.Mutex
	cosigners []*cosigner
	cache     *addressCache
}

// Create returns an empty wallet with the given policy. Policy problems are
// not rejected here, Validate reports them.
func Create(m, n int, scriptType keyring.MultisigType, sortedKeys bool,
	net *chaincfg.Params) *Wallet {

	return &Wallet{
		m:          m,
		n:          n,
		scriptType: scriptType,
		sortedKeys: sortedKeys,
		net:        net,
		cache:      newAddressCache(),
	}
}

// FromConfig builds a complete wallet from cfg. The configuration must hold
// exactly n cosigners and pass validation.
func FromConfig(cfg Config) (*Wallet, error) {
	w := Create(cfg.M, cfg.N, cfg.ScriptType, cfg.SortedKeys, cfg.Net)
	for _, info := range cfg.Cosigners {
		if err := w.AddCosigner(info); err != nil {
			return nil, err
		}
	}

	if !w.IsComplete() {
		return nil, fmt.Errorf("%w: %d of %d cosigners",
			ErrWalletIncomplete, len(cfg.Cosigners), cfg.N)
	}

	if err := w.Validate().Err(); err != nil {
		return nil, err
	}

	return w, nil
}

// M returns the signature threshold.
func (w *Wallet) M() int {
	return w.m
}

// N returns the number of cosigners of a complete wallet.
func (w *Wallet) N() int {
	return w.n
}

// ScriptType returns how the multisig script is committed to.
func (w *Wallet) ScriptType() keyring.MultisigType {
	return w.scriptType
}

// SortedKeys reports whether script keys are sorted.
func (w *Wallet) SortedKeys() bool {
	return w.sortedKeys
}

// Net returns the network of the wallet.
func (w *Wallet) Net() *chaincfg.Params {
	return w.net
}

// Config returns a copy of the wallet configuration.
func (w *Wallet) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Config{
		M:          w.m,
		N:          w.n,
		ScriptType: w.scriptType,
		SortedKeys: w.sortedKeys,
		Net:        w.net,
		Cosigners:  w.cosignerInfosLocked(),
	}
}

// Cosigners returns the cosigners in insertion order.
func (w *Wallet) Cosigners() []CosignerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cosignerInfosLocked()
}

func (w *Wallet) cosignerInfosLocked() []CosignerInfo {
	infos := make([]CosignerInfo, 0, len(w.cosigners))
	for _, c := range w.cosigners {
		info := c.info
		info.Path = slices.Clone(c.info.Path)
		infos = append(infos, info)
	}

	return infos
}

// IsComplete reports whether all n cosigners are present.
func (w *Wallet) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.isCompleteLocked()
}

func (w *Wallet) isCompleteLocked() bool {
	return len(w.cosigners) == w.n
}

// defaultPath returns the BIP48 account path for account 0.
func (w *Wallet) defaultPath() []uint32 {
	return []uint32{
		keyring.PurposeMultisig + keyring.HardenedKeyStart,
		w.net.HDCoinType + keyring.HardenedKeyStart,
		keyring.HardenedKeyStart,
		w.scriptType.BIP48Index() + keyring.HardenedKeyStart,
	}
}

// parseCosigner normalizes and parses the cosigner extended key.
func (w *Wallet) parseCosigner(info CosignerInfo) (*cosigner, error) {
	if info.ID == "" {
		info.ID = keyring.FormatFingerprint(info.Fingerprint)
	}

	keyInfo, err := keyring.InspectExtendedKey(info.Xpub)
	if err != nil {
		return nil, fmt.Errorf("cosigner %s: %w", info.ID, err)
	}

	if keyInfo.Private {
		return nil, fmt.Errorf("cosigner %s: %w", info.ID,
			ErrPrivateXpub)
	}

	mainnet := w.net.HDPublicKeyID == chaincfg.MainNetParams.HDPublicKeyID
	if keyInfo.Mainnet != mainnet {
		return nil, fmt.Errorf("cosigner %s: %w: key is for another "+
			"network", info.ID, keyring.ErrUnknownVersion)
	}

	normalized, err := keyring.NormalizeExtendedKey(info.Xpub)
	if err != nil {
		return nil, err
	}

	node, err := hdkeychain.NewKeyFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("cosigner %s: %w", info.ID, err)
	}
	node.SetNet(w.net)

	if len(info.Path) == 0 {
		info.Path = w.defaultPath()
	} else {
		info.Path = slices.Clone(info.Path)
	}

	return &cosigner{info: info, node: node}, nil
}

// findLocked returns the index of the cosigner with the given id.
func (w *Wallet) findLocked(id string) (int, error) {
	idx := slices.IndexFunc(w.cosigners, func(c *cosigner) bool {
		return c.info.ID == id
	})
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrCosignerNotFound, id)
	}

	return idx, nil
}

// AddCosigner adds a cosigner. The id defaults to the fingerprint hex.
func (w *Wallet) AddCosigner(info CosignerInfo) error {
	c, err := w.parseCosigner(info)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isCompleteLocked() {
		return ErrWalletComplete
	}

	if _, err := w.findLocked(c.info.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateCosigner, c.info.ID)
	}

	w.cosigners = append(w.cosigners, c)

	log.Debugf("Added cosigner %s (%s) fingerprint=%08x, %d of %d",
		c.info.ID, c.info.Name, c.info.Fingerprint, len(w.cosigners),
		w.n)

	return nil
}

// RemoveCosigner removes a cosigner from an incomplete wallet.
func (w *Wallet) RemoveCosigner(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isCompleteLocked() {
		return ErrWalletComplete
	}

	idx, err := w.findLocked(id)
	if err != nil {
		return err
	}

	w.cosigners = slices.Delete(w.cosigners, idx, idx+1)

	return nil
}

// UpdateCosigner replaces the cosigner with the same id. Once the wallet is
// complete only the name and the local flag may change.
func (w *Wallet) UpdateCosigner(info CosignerInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.findLocked(info.ID)
	if err != nil {
		return err
	}
	current := w.cosigners[idx]

	if w.isCompleteLocked() {
		sameKey := info.Xpub == current.info.Xpub &&
			info.Fingerprint == current.info.Fingerprint &&
			(len(info.Path) == 0 ||
				slices.Equal(info.Path, current.info.Path))
		if !sameKey {
			return ErrWalletComplete
		}

		current.info.Name = info.Name
		current.info.Local = info.Local
		if !info.Local {
			current.signer = nil
		}

		return nil
	}

	c, err := w.parseCosigner(info)
	if err != nil {
		return err
	}
	if info.Local && info.Xpub == current.info.Xpub {
		c.signer = current.signer
	}
	w.cosigners[idx] = c

	return nil
}

// accountOf returns the account level of a BIP48 path.
func accountOf(path []uint32) uint32 {
	if len(path) < 3 || path[2] < keyring.HardenedKeyStart {
		return 0
	}

	return path[2] - keyring.HardenedKeyStart
}

// AttachSigner marks the cosigner local and attaches engine for signing
// after checking that engine owns the cosigner key.
func (w *Wallet) AttachSigner(id string, engine *keyring.Engine) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.findLocked(id)
	if err != nil {
		return err
	}
	c := w.cosigners[idx]

	if engine.Fingerprint() != c.info.Fingerprint {
		return fmt.Errorf("%w: fingerprint %s, want %08x",
			ErrXpubMismatch, engine.FingerprintHex(),
			c.info.Fingerprint)
	}

	xpub, err := engine.MultisigXpub(w.scriptType, accountOf(c.info.Path))
	if err != nil {
		return err
	}

	got, err := keyring.NormalizeExtendedKey(xpub)
	if err != nil {
		return err
	}
	want, err := keyring.NormalizeExtendedKey(c.info.Xpub)
	if err != nil {
		return err
	}

	if got != want {
		return fmt.Errorf("%w: cosigner %s", ErrXpubMismatch, id)
	}

	c.signer = engine
	c.info.Local = true

	log.Infof("Attached local signer %s to cosigner %s",
		engine.FingerprintHex(), id)

	return nil
}

// Signer returns the local engine of a cosigner.
func (w *Wallet) Signer(id string) (*keyring.Engine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.findLocked(id)
	if err != nil {
		return nil, err
	}

	c := w.cosigners[idx]
	if c.signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLocalSigner, id)
	}

	return c.signer, nil
}

// Cosigner returns the cosigner with the given id.
func (w *Wallet) Cosigner(id string) (CosignerInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.findLocked(id)
	if err != nil {
		return CosignerInfo{}, err
	}

	info := w.cosigners[idx].info
	info.Path = slices.Clone(info.Path)

	return info, nil
}
