// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcmultisig/keyring"
)

// Descriptor returns the output descriptor of the receive or change chain,
// e.g.
//
//	wsh(sortedmulti(2,[fp/48'/0'/0'/2']xpub.../0/*,...))#checksum
//
// Keys are listed in cosigner order with the plain BIP32 prefix.
func (w *Wallet) Descriptor(change bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isCompleteLocked() {
		return "", fmt.Errorf("%w: %d of %d cosigners",
			ErrWalletIncomplete, len(w.cosigners), w.n)
	}

	if err := w.validateLocked().Err(); err != nil {
		return "", err
	}

	keys := make([]string, 0, len(w.cosigners))
	for _, c := range w.cosigners {
		xpub, err := keyring.NormalizeExtendedKey(c.info.Xpub)
		if err != nil {
			return "", err
		}

		keys = append(keys, fmt.Sprintf("%s%s/%d/*",
			keyring.KeyOrigin(c.info.Fingerprint, c.info.Path), xpub,
			chainOf(change)))
	}

	keyExpr := "multi"
	if w.sortedKeys {
		keyExpr = "sortedmulti"
	}
	inner := fmt.Sprintf(
		"%s(%d,%s)", keyExpr, w.m, strings.Join(keys, ","),
	)

	var desc string
	switch w.scriptType {
	case keyring.MultisigP2SH:
		desc = "sh(" + inner + ")"

	case keyring.MultisigP2WSH:
		desc = "wsh(" + inner + ")"

	case keyring.MultisigP2SHP2WSH:
		desc = "sh(wsh(" + inner + "))"

	default:
		return "", fmt.Errorf("%w: %v", keyring.ErrUnknownScriptType,
			w.scriptType)
	}

	return keyring.AddDescriptorChecksum(desc)
}
