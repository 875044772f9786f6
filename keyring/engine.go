// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyring derives BIP32 key trees for the four single-sig script
// families (BIP44/49/84/86) and the BIP48 multisig accounts, and hands out
// the addresses, extended public keys, descriptors and raw signing material
// built from them.
package keyring

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// nodeLevel distinguishes the cached levels of the key tree.
type nodeLevel uint8

const (
	// levelAccount is m/purpose'/coin'/account'.
	levelAccount nodeLevel = iota + 1

	// levelChain is m/purpose'/coin'/account'/chain.
	levelChain

	// levelMultisig is m/48'/coin'/account'/scriptType'.
	levelMultisig
)

// nodeKey addresses one cached node in the arena. For levelMultisig the chain
// field carries the BIP48 script type index.
type nodeKey struct {
	level    nodeLevel
	purpose  uint32
	coinType uint32
	account  uint32
	chain    uint32
}

// Engine owns one hierarchical key tree. Account and chain level nodes are
// created lazily and kept in an arena so an address derivation costs a
// single non-hardened child derivation once its chain is warm.
//
// NOTE: an Engine is not safe for concurrent use since its arena is
// populated on first access. Use one engine per goroutine or serialize
// access; distinct engines over the same seed always agree.
type Engine struct {
	net *chaincfg.Params

	// master is the root of the tree. It is public only for watch-only
	// engines.
	master *hdkeychain.ExtendedKey

	// fingerprint is the first four bytes of HASH160(master pubkey).
	fingerprint [4]byte

	// nodes is the arena and nodeIndex maps a path key to its slot.
	nodes     []*hdkeychain.ExtendedKey
	nodeIndex map[nodeKey]int

	destroyed bool
}

// New creates an engine from seed bytes.
func New(seed []byte, net *chaincfg.Params) (*Engine, error) {
	master, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	return newEngine(master, net)
}

// NewFromSeedHex creates an engine from hex encoded raw seed bytes.
func NewFromSeedHex(seedHex string, net *chaincfg.Params) (*Engine, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	defer zeroBytes(seed)

	return New(seed, net)
}

// NewFromExtendedKey creates an engine from a base58 extended key. Keys
// using any recognized SLIP-132 prefix are normalized to the plain BIP32
// prefix first. A public key produces a watch-only engine that can only
// derive non-hardened children and fails signing with ErrMissingPrivateKey.
func NewFromExtendedKey(key string, net *chaincfg.Params) (*Engine, error) {
	info, err := InspectExtendedKey(key)
	if err != nil {
		return nil, err
	}

	if info.Mainnet != isMainnet(net) {
		return nil, fmt.Errorf("%w: key is for another network",
			ErrUnknownVersion)
	}

	normalized, err := NormalizeExtendedKey(key)
	if err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewKeyFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse extended key: %w", err)
	}

	// Regtest and signet share the testnet prefixes, so pin the key to
	// the requested params.
	master.SetNet(net)

	if master.Depth() != 0 {
		log.Warnf("Extended key has depth %d, treating it as the root "+
			"of the derivation tree", master.Depth())
	}

	return newEngine(master, net)
}

// newEngine wires the arena around a master key.
func newEngine(master *hdkeychain.ExtendedKey,
	net *chaincfg.Params) (*Engine, error) {

	pub, err := master.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("master pubkey: %w", err)
	}

	e := &Engine{
		net:       net,
		master:    master,
		nodeIndex: make(map[nodeKey]int),
	}
	copy(e.fingerprint[:], btcutil.Hash160(pub.SerializeCompressed()))

	log.Debugf("Created key engine fingerprint=%s net=%s watch_only=%v",
		e.FingerprintHex(), net.Name, !master.IsPrivate())

	return e, nil
}

// Net returns the network parameters of the engine.
func (e *Engine) Net() *chaincfg.Params {
	return e.net
}

// CoinType returns the BIP44 coin type used in every path.
func (e *Engine) CoinType() uint32 {
	return e.net.HDCoinType
}

// Fingerprint returns the master key fingerprint as a big endian integer so
// that %08x prints it in the conventional byte order.
func (e *Engine) Fingerprint() uint32 {
	return binary.BigEndian.Uint32(e.fingerprint[:])
}

// FingerprintHex returns the master key fingerprint as eight hex characters.
func (e *Engine) FingerprintHex() string {
	return hex.EncodeToString(e.fingerprint[:])
}

// IsWatchOnly reports whether the engine lacks private key material.
func (e *Engine) IsWatchOnly() bool {
	return e.master == nil || !e.master.IsPrivate()
}

// checkAlive returns ErrEngineDestroyed once Destroy was called.
func (e *Engine) checkAlive() error {
	if e.destroyed {
		return ErrEngineDestroyed
	}

	return nil
}

// lookup returns a cached node.
func (e *Engine) lookup(key nodeKey) (*hdkeychain.ExtendedKey, bool) {
	idx, ok := e.nodeIndex[key]
	if !ok {
		return nil, false
	}

	return e.nodes[idx], true
}

// remember stores node in the arena under key.
func (e *Engine) remember(key nodeKey, node *hdkeychain.ExtendedKey) {
	e.nodeIndex[key] = len(e.nodes)
	e.nodes = append(e.nodes, node)
}

// deriveFrom walks path starting at parent. Intermediate private nodes are
// zeroed as soon as they are no longer needed.
func deriveFrom(parent *hdkeychain.ExtendedKey,
	path ...uint32) (*hdkeychain.ExtendedKey, error) {

	node := parent
	for i, index := range path {
		child, err := node.Derive(index)
		if node != parent && i > 0 {
			node.Zero()
		}

		switch {
		case errors.Is(err, hdkeychain.ErrDeriveHardFromPublic):
			return nil, fmt.Errorf("%w: hardened level %s",
				ErrMissingPrivateKey, formatLevel(index))

		case err != nil:
			return nil, fmt.Errorf("derive %s: %w",
				formatLevel(index), err)
		}

		node = child
	}

	return node, nil
}

// accountNode returns m/purpose'/coin'/account', deriving and caching it on
// a miss.
func (e *Engine) accountNode(purpose,
	account uint32) (*hdkeychain.ExtendedKey, error) {

	key := nodeKey{
		level:    levelAccount,
		purpose:  purpose,
		coinType: e.CoinType(),
		account:  account,
	}
	if node, ok := e.lookup(key); ok {
		return node, nil
	}

	node, err := deriveFrom(
		e.master, purpose+HardenedKeyStart,
		e.CoinType()+HardenedKeyStart, account+HardenedKeyStart,
	)
	if err != nil {
		return nil, err
	}

	log.Tracef("Cached account node %d'/%d'/%d'", purpose, e.CoinType(),
		account)
	e.remember(key, node)

	return node, nil
}

// chainNode returns m/purpose'/coin'/account'/chain, deriving and caching it
// and its account node on a miss.
func (e *Engine) chainNode(purpose, account,
	chain uint32) (*hdkeychain.ExtendedKey, error) {

	key := nodeKey{
		level:    levelChain,
		purpose:  purpose,
		coinType: e.CoinType(),
		account:  account,
		chain:    chain,
	}
	if node, ok := e.lookup(key); ok {
		return node, nil
	}

	acct, err := e.accountNode(purpose, account)
	if err != nil {
		return nil, err
	}

	node, err := deriveFrom(acct, chain)
	if err != nil {
		return nil, err
	}

	e.remember(key, node)

	return node, nil
}

// multisigNode returns the BIP48 account node m/48'/coin'/account'/type'.
func (e *Engine) multisigNode(mt MultisigType,
	account uint32) (*hdkeychain.ExtendedKey, error) {

	if !mt.Valid() {
		return nil, fmt.Errorf("%w: multisig type %d",
			ErrUnknownScriptType, mt)
	}

	key := nodeKey{
		level:    levelMultisig,
		purpose:  PurposeMultisig,
		coinType: e.CoinType(),
		account:  account,
		chain:    mt.BIP48Index(),
	}
	if node, ok := e.lookup(key); ok {
		return node, nil
	}

	node, err := deriveFrom(
		e.master, PurposeMultisig+HardenedKeyStart,
		e.CoinType()+HardenedKeyStart, account+HardenedKeyStart,
		mt.BIP48Index()+HardenedKeyStart,
	)
	if err != nil {
		return nil, err
	}

	e.remember(key, node)

	return node, nil
}

// MultisigPath returns the BIP48 account path for mt and account.
func (e *Engine) MultisigPath(mt MultisigType, account uint32) []uint32 {
	return []uint32{
		PurposeMultisig + HardenedKeyStart,
		e.CoinType() + HardenedKeyStart,
		account + HardenedKeyStart,
		mt.BIP48Index() + HardenedKeyStart,
	}
}

// childKey derives the leaf key of path. The caller owns the result and
// must zero it.
func (e *Engine) childKey(path Path) (*hdkeychain.ExtendedKey, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}

	if path.CoinType != e.CoinType() {
		return nil, fmt.Errorf("%w: coin type %d on %s", ErrInvalidPath,
			path.CoinType, e.net.Name)
	}

	// Below the account only the chain and one normal step follow.
	switch {
	case path.Account >= HardenedKeyStart:
		return nil, fmt.Errorf("%w: account %d out of range",
			ErrInvalidPath, path.Account)

	case path.Chain > InternalBranch:
		return nil, fmt.Errorf("%w: chain %d is neither receive nor "+
			"change", ErrInvalidPath, path.Chain)

	case path.Index >= HardenedKeyStart:
		return nil, fmt.Errorf("%w: hardened address index %d",
			ErrInvalidPath, path.Index)
	}

	chain, err := e.chainNode(path.Purpose, path.Account, path.Chain)
	if err != nil {
		return nil, err
	}

	return deriveFrom(chain, path.Index)
}

// Destroy zeroes every cached private node and the master key and drops all
// references. Every later call on the engine fails with ErrEngineDestroyed.
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}

	for _, node := range e.nodes {
		node.Zero()
	}
	if e.master != nil {
		e.master.Zero()
	}

	e.nodes = nil
	e.nodeIndex = nil
	e.master = nil
	e.destroyed = true

	log.Debugf("Destroyed key engine %s", e.FingerprintHex())
}

// zeroBytes overwrites b with zeros.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
