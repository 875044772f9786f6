// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// HardenedKeyStart is the index at which a hardened child key starts.
	HardenedKeyStart = hdkeychain.HardenedKeyStart

	// ExternalBranch is the chain used for receiving addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the chain used for change addresses.
	InternalBranch uint32 = 1
)

// BIP43 purposes understood by the engine.
const (
	PurposeLegacy   uint32 = 44
	PurposeMultisig uint32 = 48
	PurposeNested   uint32 = 49
	PurposeSegwit   uint32 = 84
	PurposeTaproot  uint32 = 86
)

// ScriptType identifies one of the four single-sig script families the
// engine derives addresses for.
type ScriptType uint8

const (
	// ScriptTypeP2PKH is a legacy pay-to-pubkey-hash output (BIP44).
	ScriptTypeP2PKH ScriptType = iota

	// ScriptTypeNestedP2WPKH is a P2WPKH program wrapped in P2SH (BIP49).
	ScriptTypeNestedP2WPKH

	// ScriptTypeP2WPKH is a native segwit v0 key hash output (BIP84).
	ScriptTypeP2WPKH

	// ScriptTypeP2TR is a segwit v1 key path only taproot output (BIP86).
	ScriptTypeP2TR
)

// ScriptTypes lists every single-sig script type in purpose order.
var ScriptTypes = []ScriptType{
	ScriptTypeP2PKH, ScriptTypeNestedP2WPKH, ScriptTypeP2WPKH,
	ScriptTypeP2TR,
}

// Purpose returns the BIP43 purpose used for the script type.
func (s ScriptType) Purpose() uint32 {
	switch s {
	case ScriptTypeP2PKH:
		return PurposeLegacy

	case ScriptTypeNestedP2WPKH:
		return PurposeNested

	case ScriptTypeP2WPKH:
		return PurposeSegwit

	case ScriptTypeP2TR:
		return PurposeTaproot

	default:
		return 0
	}
}

// String returns a short human readable name.
func (s ScriptType) String() string {
	switch s {
	case ScriptTypeP2PKH:
		return "p2pkh"

	case ScriptTypeNestedP2WPKH:
		return "p2sh-p2wpkh"

	case ScriptTypeP2WPKH:
		return "p2wpkh"

	case ScriptTypeP2TR:
		return "p2tr"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ScriptTypeFromPurpose maps a BIP43 purpose to its script type.
func ScriptTypeFromPurpose(purpose uint32) (ScriptType, error) {
	switch purpose {
	case PurposeLegacy:
		return ScriptTypeP2PKH, nil

	case PurposeNested:
		return ScriptTypeNestedP2WPKH, nil

	case PurposeSegwit:
		return ScriptTypeP2WPKH, nil

	case PurposeTaproot:
		return ScriptTypeP2TR, nil

	default:
		return 0, fmt.Errorf("%w: purpose %d", ErrUnknownScriptType,
			purpose)
	}
}

// ParseScriptType parses the String form of a script type.
func ParseScriptType(s string) (ScriptType, error) {
	for _, st := range ScriptTypes {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownScriptType, s)
}

// MultisigType identifies how an m-of-n multisig script is committed to in
// the output script. The numeric value is the BIP48 script type index.
type MultisigType uint8

const (
	// MultisigP2SH is a bare multisig script inside P2SH.
	MultisigP2SH MultisigType = 0

	// MultisigP2SHP2WSH is a P2WSH program nested in P2SH.
	MultisigP2SHP2WSH MultisigType = 1

	// MultisigP2WSH is a native segwit v0 script hash output.
	MultisigP2WSH MultisigType = 2
)

// BIP48Index returns the hardened-level index used in the BIP48 path.
func (m MultisigType) BIP48Index() uint32 {
	return uint32(m)
}

// String returns a short human readable name.
func (m MultisigType) String() string {
	switch m {
	case MultisigP2SH:
		return "p2sh"

	case MultisigP2SHP2WSH:
		return "p2sh-p2wsh"

	case MultisigP2WSH:
		return "p2wsh"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the known multisig types.
func (m MultisigType) Valid() bool {
	return m <= MultisigP2WSH
}

// ParseMultisigType parses the String form of a multisig type.
func ParseMultisigType(s string) (MultisigType, error) {
	for _, mt := range []MultisigType{
		MultisigP2SH, MultisigP2SHP2WSH, MultisigP2WSH,
	} {
		if strings.EqualFold(mt.String(), s) {
			return mt, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownScriptType, s)
}

// Path is a full single-sig derivation path of the form
// m/purpose'/coin'/account'/chain/index. The first three levels are always
// hardened.
type Path struct {
	Purpose  uint32
	CoinType uint32
	Account  uint32
	Chain    uint32
	Index    uint32
}

// IsChange reports whether the path is on the internal branch.
func (p Path) IsChange() bool {
	return p.Chain == InternalBranch
}

// Components returns the path as raw child indexes with hardening applied.
func (p Path) Components() []uint32 {
	return []uint32{
		p.Purpose + HardenedKeyStart,
		p.CoinType + HardenedKeyStart,
		p.Account + HardenedKeyStart,
		p.Chain,
		p.Index,
	}
}

// String renders the path in the usual m/84'/0'/0'/0/5 notation.
func (p Path) String() string {
	return FormatDerivationPath(p.Components())
}

// ParsePath parses a five level single-sig path.
func ParsePath(s string) (Path, error) {
	parts, err := ParseDerivationPath(s)
	if err != nil {
		return Path{}, err
	}

	if len(parts) != 5 {
		return Path{}, fmt.Errorf("%w: want 5 levels, got %d",
			ErrInvalidPath, len(parts))
	}

	for i, part := range parts {
		hardened := part >= HardenedKeyStart
		if i < 3 && !hardened {
			return Path{}, fmt.Errorf("%w: level %d must be hardened",
				ErrInvalidPath, i+1)
		}
		if i >= 3 && hardened {
			return Path{}, fmt.Errorf("%w: level %d must not be "+
				"hardened", ErrInvalidPath, i+1)
		}
	}

	return Path{
		Purpose:  parts[0] - HardenedKeyStart,
		CoinType: parts[1] - HardenedKeyStart,
		Account:  parts[2] - HardenedKeyStart,
		Chain:    parts[3],
		Index:    parts[4],
	}, nil
}

// ParseDerivationPath parses a BIP32 path into raw child indexes. The leading
// "m/" is optional so that key origin fragments such as "84'/0'/0'" are
// accepted too. Hardened levels may be marked with ', h or H.
func ParseDerivationPath(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "m" || s == "M" || s == "":
		return []uint32{}, nil

	case strings.HasPrefix(s, "m/") || strings.HasPrefix(s, "M/"):
		s = s[2:]
	}

	fields := strings.Split(s, "/")
	path := make([]uint32, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			return nil, fmt.Errorf("%w: empty level in %q",
				ErrInvalidPath, s)
		}

		var offset uint32
		last := field[len(field)-1]
		if last == '\'' || last == 'h' || last == 'H' {
			offset = HardenedKeyStart
			field = field[:len(field)-1]
		}

		// Reject signs and whitespace, ParseUint alone would not.
		for _, c := range field {
			if c < '0' || c > '9' {
				return nil, fmt.Errorf("%w: bad level %q",
					ErrInvalidPath, field)
			}
		}

		index, err := strconv.ParseUint(field, 10, 32)
		if err != nil || index >= uint64(HardenedKeyStart) {
			return nil, fmt.Errorf("%w: bad level %q",
				ErrInvalidPath, field)
		}

		path = append(path, uint32(index)+offset)
	}

	return path, nil
}

// FormatDerivationPath renders raw child indexes with an "m/" prefix using
// the ' marker for hardened levels.
func FormatDerivationPath(path []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range path {
		b.WriteString("/")
		b.WriteString(formatLevel(index))
	}

	return b.String()
}

// formatLevel renders a single path level.
func formatLevel(index uint32) string {
	if index >= HardenedKeyStart {
		return strconv.FormatUint(uint64(index-HardenedKeyStart), 10) +
			"'"
	}

	return strconv.FormatUint(uint64(index), 10)
}

// originPath renders a path without the "m/" prefix as used inside
// descriptor key origins.
func originPath(path []uint32) string {
	return strings.TrimPrefix(FormatDerivationPath(path), "m/")
}
