// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// KeyFormat names a SLIP-132 extended key serialization family.
type KeyFormat uint8

const (
	// FormatXpub is the plain BIP32 format, xpub/tpub.
	FormatXpub KeyFormat = iota

	// FormatYpub is single-sig wrapped segwit, ypub/upub.
	FormatYpub

	// FormatZpub is single-sig native segwit, zpub/vpub.
	FormatZpub

	// FormatYpubMultisig is multisig wrapped segwit, Ypub/Upub.
	FormatYpubMultisig

	// FormatZpubMultisig is multisig native segwit, Zpub/Vpub.
	FormatZpubMultisig
)

// String returns the mainnet prefix of the format.
func (f KeyFormat) String() string {
	switch f {
	case FormatXpub:
		return "xpub"

	case FormatYpub:
		return "ypub"

	case FormatZpub:
		return "zpub"

	case FormatYpubMultisig:
		return "Ypub"

	case FormatZpubMultisig:
		return "Zpub"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// versionEntry is one row of the SLIP-132 table.
type versionEntry struct {
	format  KeyFormat
	mainnet bool
	private bool
	version [4]byte
}

// versionTable holds every recognized version prefix. The public rows are
// the ones handed out by ExtendedPublicKey and MultisigXpub, the private rows
// only matter for normalization on import.
var versionTable = []versionEntry{
	{FormatXpub, true, false, [4]byte{0x04, 0x88, 0xb2, 0x1e}},
	{FormatXpub, true, true, [4]byte{0x04, 0x88, 0xad, 0xe4}},
	{FormatXpub, false, false, [4]byte{0x04, 0x35, 0x87, 0xcf}},
	{FormatXpub, false, true, [4]byte{0x04, 0x35, 0x83, 0x94}},

	{FormatYpub, true, false, [4]byte{0x04, 0x9d, 0x7c, 0xb2}},
	{FormatYpub, true, true, [4]byte{0x04, 0x9d, 0x78, 0x78}},
	{FormatYpub, false, false, [4]byte{0x04, 0x4a, 0x52, 0x62}},
	{FormatYpub, false, true, [4]byte{0x04, 0x4a, 0x4e, 0x28}},

	{FormatZpub, true, false, [4]byte{0x04, 0xb2, 0x47, 0x46}},
	{FormatZpub, true, true, [4]byte{0x04, 0xb2, 0x43, 0x0c}},
	{FormatZpub, false, false, [4]byte{0x04, 0x5f, 0x1c, 0xf6}},
	{FormatZpub, false, true, [4]byte{0x04, 0x5f, 0x18, 0xbc}},

	{FormatYpubMultisig, true, false, [4]byte{0x02, 0x95, 0xb4, 0x3f}},
	{FormatYpubMultisig, true, true, [4]byte{0x02, 0x95, 0xb0, 0x05}},
	{FormatYpubMultisig, false, false, [4]byte{0x02, 0x42, 0x89, 0xef}},
	{FormatYpubMultisig, false, true, [4]byte{0x02, 0x42, 0x85, 0xb5}},

	{FormatZpubMultisig, true, false, [4]byte{0x02, 0xaa, 0x7e, 0xd3}},
	{FormatZpubMultisig, true, true, [4]byte{0x02, 0xaa, 0x7a, 0x99}},
	{FormatZpubMultisig, false, false, [4]byte{0x02, 0x57, 0x54, 0x83}},
	{FormatZpubMultisig, false, true, [4]byte{0x02, 0x57, 0x50, 0x48}},
}

// isMainnet reports whether the params use mainnet HD versions.
func isMainnet(net *chaincfg.Params) bool {
	return net.HDPublicKeyID == chaincfg.MainNetParams.HDPublicKeyID
}

// VersionFor returns the version bytes of format on the given network.
func VersionFor(net *chaincfg.Params, format KeyFormat,
	private bool) ([4]byte, error) {

	mainnet := isMainnet(net)
	for _, entry := range versionTable {
		if entry.format == format && entry.mainnet == mainnet &&
			entry.private == private {

			return entry.version, nil
		}
	}

	return [4]byte{}, fmt.Errorf("%w: format %v", ErrUnknownVersion,
		format)
}

// lookupVersion finds the table row for a raw prefix.
func lookupVersion(version []byte) (versionEntry, bool) {
	for _, entry := range versionTable {
		if bytes.Equal(entry.version[:], version) {
			return entry, true
		}
	}

	return versionEntry{}, false
}

// decodeExtendedKey base58-decodes key and verifies its checksum, returning
// the 78 byte payload.
func decodeExtendedKey(key string) ([]byte, error) {
	decoded := base58.Decode(key)
	if len(decoded) != 82 {
		return nil, fmt.Errorf("%w: bad length %d", ErrUnknownVersion,
			len(decoded))
	}

	payload, checksum := decoded[:78], decoded[78:]
	if !bytes.Equal(chainhash.DoubleHashB(payload)[:4], checksum) {
		return nil, fmt.Errorf("%w: bad checksum", ErrUnknownVersion)
	}

	return payload, nil
}

// encodeExtendedKey appends the checksum to payload and base58-encodes it.
func encodeExtendedKey(payload []byte) string {
	buf := make([]byte, 0, len(payload)+4)
	buf = append(buf, payload...)
	buf = append(buf, chainhash.DoubleHashB(payload)[:4]...)

	return base58.Encode(buf)
}

// ConvertVersion rewrites the four version bytes of a serialized extended
// key. Nothing but the prefix changes, the remaining 74 bytes of payload are
// carried over untouched.
func ConvertVersion(key string, version [4]byte) (string, error) {
	payload, err := decodeExtendedKey(key)
	if err != nil {
		return "", err
	}

	copy(payload[:4], version[:])

	return encodeExtendedKey(payload), nil
}

// ExtendedKeyInfo describes the version prefix of a serialized key.
type ExtendedKeyInfo struct {
	// Format is the SLIP-132 family of the prefix.
	Format KeyFormat

	// Mainnet is true for mainnet prefixes.
	Mainnet bool

	// Private is true for extended private keys.
	Private bool
}

// InspectExtendedKey returns the SLIP-132 classification of key.
func InspectExtendedKey(key string) (ExtendedKeyInfo, error) {
	payload, err := decodeExtendedKey(key)
	if err != nil {
		return ExtendedKeyInfo{}, err
	}

	entry, ok := lookupVersion(payload[:4])
	if !ok {
		return ExtendedKeyInfo{}, fmt.Errorf("%w: %x", ErrUnknownVersion,
			payload[:4])
	}

	return ExtendedKeyInfo{
		Format:  entry.format,
		Mainnet: entry.mainnet,
		Private: entry.private,
	}, nil
}

// NormalizeExtendedKey maps any recognized SLIP-132 prefix back to the plain
// BIP32 prefix (xpub/xprv/tpub/tprv) of the same network and privacy so the
// key can be parsed by hdkeychain.
func NormalizeExtendedKey(key string) (string, error) {
	info, err := InspectExtendedKey(key)
	if err != nil {
		return "", err
	}

	if info.Format == FormatXpub {
		return key, nil
	}

	for _, entry := range versionTable {
		if entry.format == FormatXpub && entry.mainnet == info.Mainnet &&
			entry.private == info.Private {

			return ConvertVersion(key, entry.version)
		}
	}

	// Every row has an xpub counterpart, this is unreachable.
	return "", ErrUnknownVersion
}

// singleSigFormat returns the public key format of a single-sig script type.
func singleSigFormat(st ScriptType) KeyFormat {
	switch st {
	case ScriptTypeNestedP2WPKH:
		return FormatYpub

	case ScriptTypeP2WPKH:
		return FormatZpub

	default:
		return FormatXpub
	}
}

// multisigFormat returns the public key format of a multisig type.
func multisigFormat(mt MultisigType) KeyFormat {
	switch mt {
	case MultisigP2SHP2WSH:
		return FormatYpubMultisig

	case MultisigP2WSH:
		return FormatZpubMultisig

	default:
		return FormatXpub
	}
}
