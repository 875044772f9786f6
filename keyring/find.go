// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// GuessScriptType infers the probable single-sig script type of an address
// from its textual prefix. A P2SH address is assumed to wrap P2WPKH.
func GuessScriptType(address string) fn.Option[ScriptType] {
	lower := strings.ToLower(address)

	for _, hrp := range []string{"bcrt1", "bc1", "tb1"} {
		if !strings.HasPrefix(lower, hrp) || len(lower) <= len(hrp) {
			continue
		}

		switch lower[len(hrp)] {
		case 'q':
			return fn.Some(ScriptTypeP2WPKH)

		case 'p':
			return fn.Some(ScriptTypeP2TR)
		}

		return fn.None[ScriptType]()
	}

	switch {
	case strings.HasPrefix(address, "1"),
		strings.HasPrefix(address, "m"),
		strings.HasPrefix(address, "n"):

		return fn.Some(ScriptTypeP2PKH)

	case strings.HasPrefix(address, "3"),
		strings.HasPrefix(address, "2"):

		return fn.Some(ScriptTypeNestedP2WPKH)
	}

	return fn.None[ScriptType]()
}

// scanOrder returns every script type with the guessed one first.
func scanOrder(address string) []ScriptType {
	guess := GuessScriptType(address)

	order := make([]ScriptType, 0, len(ScriptTypes))
	guess.WhenSome(func(st ScriptType) {
		order = append(order, st)
	})

	for _, st := range ScriptTypes {
		if guess.IsSome() && guess.UnwrapOr(st) == st {
			continue
		}
		order = append(order, st)
	}

	return order
}

// FindAddress searches account 0 for address. The type guessed from the
// address prefix is scanned first, then the remaining ones, each over the
// receive and change chains up to and including maxIndex. None is returned
// when the address does not belong to the engine.
func (e *Engine) FindAddress(address string,
	maxIndex uint32) (fn.Option[AddressInfo], error) {

	if err := e.checkAlive(); err != nil {
		return fn.None[AddressInfo](), err
	}

	for _, st := range scanOrder(address) {
		log.Tracef("Scanning %v addresses for %s", st, address)

		for _, change := range []bool{false, true} {
			for index := uint32(0); index <= maxIndex; index++ {
				info, err := e.DeriveAddress(st, 0, change, index)
				if err != nil {
					return fn.None[AddressInfo](), err
				}

				if info.Address == address {
					return fn.Some(*info), nil
				}

				// Guard the wrap around at the top of the
				// range.
				if index == maxIndex {
					break
				}
			}
		}
	}

	return fn.None[AddressInfo](), nil
}
