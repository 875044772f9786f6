// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"slices"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// KeyOrigin records where a script public key comes from.
type KeyOrigin struct {
	// CosignerID is the id of the owning cosigner.
	CosignerID string

	// Fingerprint is the cosigner master fingerprint, big endian.
	Fingerprint uint32

	// Path is the full path from the cosigner master key.
	Path []uint32
}

// AddressInfo is one derived multisig address.
type AddressInfo struct {
	// Address is the encoded address.
	Address string

	// Index is the last path level.
	Index uint32

	// Change is true for addresses on the internal chain.
	Change bool

	// ScriptType is how the multisig script is committed to.
	ScriptType keyring.MultisigType

	// PkScript is the output script of the address.
	PkScript []byte

	// RedeemScript is the P2SH redeem script. For P2SH it is the
	// multisig script, for P2SH-P2WSH the P2WSH program, for P2WSH it is
	// empty.
	RedeemScript []byte

	// WitnessScript is the multisig script of the segwit types.
	WitnessScript []byte

	// PubKeys are the compressed keys in script order.
	PubKeys [][]byte

	// KeyOrigins maps hex encoded PubKeys to their origin. Sorting drops
	// the cosigner order, this map restores it.
	KeyOrigins map[string]KeyOrigin
}

// MultisigScript returns the bare m-of-n script, whichever wrapper holds it.
func (a *AddressInfo) MultisigScript() []byte {
	if len(a.WitnessScript) > 0 {
		return a.WitnessScript
	}

	return a.RedeemScript
}

// Origin returns the origin of a script key.
func (a *AddressInfo) Origin(pubKey []byte) fn.Option[KeyOrigin] {
	origin, ok := a.KeyOrigins[hex.EncodeToString(pubKey)]
	if !ok {
		return fn.None[KeyOrigin]()
	}

	return fn.Some(origin)
}

// position is a (chain, index) pair.
type position struct {
	chain uint32
	index uint32
}

// addressCache indexes derived addresses by string, script and position
// and tracks the highest derived index per chain.
type addressCache struct {
	byAddress  map[string]*AddressInfo
	byScript   map[string]*AddressInfo
	byPosition map[position]*AddressInfo
	highWater  [2]fn.Option[uint32]
}

func newAddressCache() *addressCache {
	return &addressCache{
		byAddress:  make(map[string]*AddressInfo),
		byScript:   make(map[string]*AddressInfo),
		byPosition: make(map[position]*AddressInfo),
	}
}

func (c *addressCache) put(info *AddressInfo) {
	chain := chainOf(info.Change)

	c.byAddress[info.Address] = info
	c.byScript[string(info.PkScript)] = info
	c.byPosition[position{chain, info.Index}] = info

	high := c.highWater[chain]
	if high.IsNone() || high.UnwrapOr(0) < info.Index {
		c.highWater[chain] = fn.Some(info.Index)
	}
}

// chainOf maps the change flag to a chain index.
func chainOf(change bool) uint32 {
	if change {
		return keyring.InternalBranch
	}

	return keyring.ExternalBranch
}

// chainKey is the per cosigner input of one derivation.
type chainKey struct {
	id          string
	fingerprint uint32
	path        []uint32
	node        *hdkeychain.ExtendedKey
}

// scriptKey is a derived key with its origin.
type scriptKey struct {
	pub    *btcec.PublicKey
	origin KeyOrigin
}

// prepareLocked checks that addresses may be derived and returns the chain
// nodes of every cosigner. The returned nodes are public and immutable, so
// they may be used without the lock.
func (w *Wallet) prepareLocked(change bool) ([]chainKey, error) {
	if !w.isCompleteLocked() {
		return nil, fmt.Errorf("%w: %d of %d cosigners",
			ErrWalletIncomplete, len(w.cosigners), w.n)
	}

	if err := w.validateLocked().Err(); err != nil {
		return nil, err
	}

	chain := chainOf(change)
	keys := make([]chainKey, 0, len(w.cosigners))
	for _, c := range w.cosigners {
		node, err := c.chainNode(chain)
		if err != nil {
			return nil, err
		}

		keys = append(keys, chainKey{
			id:          c.info.ID,
			fingerprint: c.info.Fingerprint,
			path:        c.info.Path,
			node:        node,
		})
	}

	return keys, nil
}

// buildAddress derives the address at index from prepared chain nodes. It
// touches no wallet state.
func (w *Wallet) buildAddress(keys []chainKey, change bool,
	index uint32) (*AddressInfo, error) {

	chain := chainOf(change)

	derived := make([]scriptKey, 0, len(keys))
	for _, k := range keys {
		child, err := k.node.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("cosigner %s index %d: %w", k.id,
				index, err)
		}

		pub, err := child.ECPubKey()
		if err != nil {
			return nil, err
		}

		path := make([]uint32, 0, len(k.path)+2)
		path = append(path, k.path...)
		path = append(path, chain, index)

		derived = append(derived, scriptKey{
			pub: pub,
			origin: KeyOrigin{
				CosignerID:  k.id,
				Fingerprint: k.fingerprint,
				Path:        path,
			},
		})
	}

	if w.sortedKeys {
		sort.SliceStable(derived, func(i, j int) bool {
			return bytes.Compare(
				derived[i].pub.SerializeCompressed(),
				derived[j].pub.SerializeCompressed(),
			) < 0
		})
	}

	info := &AddressInfo{
		Index:      index,
		Change:     change,
		ScriptType: w.scriptType,
		PubKeys:    make([][]byte, 0, len(derived)),
		KeyOrigins: make(map[string]KeyOrigin, len(derived)),
	}

	addrKeys := make([]*btcutil.AddressPubKey, 0, len(derived))
	for _, k := range derived {
		serialized := k.pub.SerializeCompressed()

		addrKey, err := btcutil.NewAddressPubKey(serialized, w.net)
		if err != nil {
			return nil, err
		}
		addrKeys = append(addrKeys, addrKey)

		info.PubKeys = append(info.PubKeys, serialized)
		info.KeyOrigins[hex.EncodeToString(serialized)] = k.origin
	}

	msScript, err := txscript.MultiSigScript(addrKeys, w.m)
	if err != nil {
		return nil, fmt.Errorf("multisig script: %w", err)
	}

	addr, err := w.wrapScript(info, msScript)
	if err != nil {
		return nil, err
	}

	info.Address = addr.EncodeAddress()
	info.PkScript, err = txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// wrapScript fills the redeem and witness scripts of info and returns the
// address committing to msScript.
func (w *Wallet) wrapScript(info *AddressInfo,
	msScript []byte) (btcutil.Address, error) {

	switch w.scriptType {
	case keyring.MultisigP2SH:
		info.RedeemScript = msScript

		return btcutil.NewAddressScriptHash(msScript, w.net)

	case keyring.MultisigP2WSH:
		info.WitnessScript = msScript
		scriptHash := sha256.Sum256(msScript)

		return btcutil.NewAddressWitnessScriptHash(scriptHash[:], w.net)

	case keyring.MultisigP2SHP2WSH:
		info.WitnessScript = msScript
		scriptHash := sha256.Sum256(msScript)

		witAddr, err := btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], w.net,
		)
		if err != nil {
			return nil, err
		}

		program, err := txscript.PayToAddrScript(witAddr)
		if err != nil {
			return nil, err
		}
		info.RedeemScript = program

		return btcutil.NewAddressScriptHash(program, w.net)

	default:
		return nil, fmt.Errorf("%w: %v", keyring.ErrUnknownScriptType,
			w.scriptType)
	}
}

// DeriveAddress derives the multisig address at index on the receive or
// change chain.
func (w *Wallet) DeriveAddress(index uint32,
	change bool) (*AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	keys, err := w.prepareLocked(change)
	if err != nil {
		return nil, err
	}

	pos := position{chainOf(change), index}
	if info, ok := w.cache.byPosition[pos]; ok {
		return info, nil
	}

	info, err := w.buildAddress(keys, change, index)
	if err != nil {
		return nil, err
	}
	w.cache.put(info)

	log.Tracef("Derived multisig address %s chain=%d index=%d",
		info.Address, pos.chain, index)

	return info, nil
}

// DeriveAddresses derives count addresses starting at start. The range is
// derived concurrently and returned in index order.
func (w *Wallet) DeriveAddresses(change bool, start,
	count uint32) ([]*AddressInfo, error) {

	w.mu.Lock()
	keys, err := w.prepareLocked(change)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	infos := make([]*AddressInfo, count)

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range count {
		eg.Go(func() error {
			info, err := w.buildAddress(keys, change, start+i)
			if err != nil {
				return err
			}
			infos[i] = info

			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, info := range infos {
		// Keep an earlier derivation so callers holding its pointer
		// stay in sync with the cache.
		pos := position{chainOf(change), info.Index}
		if cached, ok := w.cache.byPosition[pos]; ok {
			infos[i] = cached
			continue
		}
		w.cache.put(info)
	}

	return infos, nil
}

// HighWater returns the highest derived index of a chain.
func (w *Wallet) HighWater(change bool) fn.Option[uint32] {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cache.highWater[chainOf(change)]
}

// LookupAddress returns a previously derived address.
func (w *Wallet) LookupAddress(address string) fn.Option[*AddressInfo] {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, ok := w.cache.byAddress[address]
	if !ok {
		return fn.None[*AddressInfo]()
	}

	return fn.Some(info)
}

// LookupScript returns a previously derived address by output script.
func (w *Wallet) LookupScript(pkScript []byte) fn.Option[*AddressInfo] {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, ok := w.cache.byScript[string(pkScript)]
	if !ok {
		return fn.None[*AddressInfo]()
	}

	return fn.Some(info)
}

// Addresses returns every cached address ordered by chain and index.
func (w *Wallet) Addresses() []*AddressInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	infos := make([]*AddressInfo, 0, len(w.cache.byPosition))
	for _, info := range w.cache.byPosition {
		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b *AddressInfo) int {
		if a.Change != b.Change {
			if a.Change {
				return 1
			}
			return -1
		}

		return cmp.Compare(a.Index, b.Index)
	})

	return infos
}
