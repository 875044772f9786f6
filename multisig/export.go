// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/lightningnetwork/lnd/tlv"
)

// exportVersion is the current version of the export format.
const exportVersion uint8 = 1

// Wallet level record types.
const (
	typeVersion    tlv.Type = 0
	typeThreshold  tlv.Type = 1
	typeTotal      tlv.Type = 2
	typeScriptType tlv.Type = 3
	typeSorted     tlv.Type = 4
	typeNet        tlv.Type = 5
	typeCosignList tlv.Type = 6
)

// Cosigner level record types.
const (
	typeCosignerID          tlv.Type = 0
	typeCosignerName        tlv.Type = 1
	typeCosignerFingerprint tlv.Type = 2
	typeCosignerXpub        tlv.Type = 3
	typeCosignerPath        tlv.Type = 4
	typeCosignerLocal       tlv.Type = 5
)

// boolByte maps a flag to a record byte.
func boolByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// encodePath serializes raw path levels as big endian uint32s.
func encodePath(path []uint32) []byte {
	b := make([]byte, 4*len(path))
	for i, level := range path {
		binary.BigEndian.PutUint32(b[4*i:], level)
	}

	return b
}

// decodePath is the inverse of encodePath.
func decodePath(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: path length %d", ErrInvalidExport,
			len(b))
	}

	path := make([]uint32, len(b)/4)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(b[4*i:])
	}

	return path, nil
}

// encodeCosigner writes one cosigner as a TLV stream.
func encodeCosigner(w io.Writer, info CosignerInfo) error {
	var (
		id          = []byte(info.ID)
		name        = []byte(info.Name)
		fingerprint = info.Fingerprint
		xpub        = []byte(info.Xpub)
		path        = encodePath(info.Path)
		local       = boolByte(info.Local)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeCosignerID, &id),
		tlv.MakePrimitiveRecord(typeCosignerName, &name),
		tlv.MakePrimitiveRecord(typeCosignerFingerprint, &fingerprint),
		tlv.MakePrimitiveRecord(typeCosignerXpub, &xpub),
		tlv.MakePrimitiveRecord(typeCosignerPath, &path),
		tlv.MakePrimitiveRecord(typeCosignerLocal, &local),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeCosigner reads one cosigner TLV stream.
func decodeCosigner(r io.Reader) (CosignerInfo, error) {
	var (
		id, name, xpub, path []byte
		fingerprint          uint32
		local                uint8
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeCosignerID, &id),
		tlv.MakePrimitiveRecord(typeCosignerName, &name),
		tlv.MakePrimitiveRecord(typeCosignerFingerprint, &fingerprint),
		tlv.MakePrimitiveRecord(typeCosignerXpub, &xpub),
		tlv.MakePrimitiveRecord(typeCosignerPath, &path),
		tlv.MakePrimitiveRecord(typeCosignerLocal, &local),
	)
	if err != nil {
		return CosignerInfo{}, err
	}

	if err := stream.Decode(r); err != nil {
		return CosignerInfo{}, fmt.Errorf("%w: %v", ErrInvalidExport,
			err)
	}

	levels, err := decodePath(path)
	if err != nil {
		return CosignerInfo{}, err
	}

	return CosignerInfo{
		ID:          string(id),
		Name:        string(name),
		Fingerprint: fingerprint,
		Xpub:        string(xpub),
		Path:        levels,
		Local:       local == 1,
	}, nil
}

// encodeCosignerList writes a varint count followed by length prefixed
// cosigner streams.
func encodeCosignerList(infos []CosignerInfo) ([]byte, error) {
	var (
		buf     bytes.Buffer
		scratch [8]byte
	)

	err := tlv.WriteVarInt(&buf, uint64(len(infos)), &scratch)
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		var entry bytes.Buffer
		if err := encodeCosigner(&entry, info); err != nil {
			return nil, err
		}

		err := tlv.WriteVarInt(&buf, uint64(entry.Len()), &scratch)
		if err != nil {
			return nil, err
		}
		if _, err := buf.Write(entry.Bytes()); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decodeCosignerList is the inverse of encodeCosignerList.
func decodeCosignerList(b []byte) ([]CosignerInfo, error) {
	var scratch [8]byte
	r := bytes.NewReader(b)

	count, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if count > MaxCosigners {
		return nil, fmt.Errorf("%w: %d cosigners", ErrInvalidExport,
			count)
	}

	infos := make([]CosignerInfo, 0, count)
	for range count {
		size, err := tlv.ReadVarInt(r, &scratch)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
		if size > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: truncated cosigner",
				ErrInvalidExport)
		}

		entry := make([]byte, size)
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}

		info, err := decodeCosigner(bytes.NewReader(entry))
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidExport,
			r.Len())
	}

	return infos, nil
}

// Export serializes the wallet configuration as a TLV record stream. Local
// flags are kept, attached engines are not.
func (w *Wallet) Export() ([]byte, error) {
	cfg := w.Config()

	list, err := encodeCosignerList(cfg.Cosigners)
	if err != nil {
		return nil, err
	}

	var (
		version    = exportVersion
		threshold  = uint8(cfg.M)
		cosigners  = uint8(cfg.N)
		scriptType = uint8(cfg.ScriptType)
		sorted     = boolByte(cfg.SortedKeys)
		net        = []byte(cfg.Net.Name)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeVersion, &version),
		tlv.MakePrimitiveRecord(typeThreshold, &threshold),
		tlv.MakePrimitiveRecord(typeTotal, &cosigners),
		tlv.MakePrimitiveRecord(typeScriptType, &scriptType),
		tlv.MakePrimitiveRecord(typeSorted, &sorted),
		tlv.MakePrimitiveRecord(typeNet, &net),
		tlv.MakePrimitiveRecord(typeCosignList, &list),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Import rebuilds a wallet from Export output. The export must be for net.
// Incomplete wallets are restored as incomplete.
func Import(data []byte, net *chaincfg.Params) (*Wallet, error) {
	var (
		version, threshold, cosigners, scriptType, sorted uint8
		netName, list                                     []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeVersion, &version),
		tlv.MakePrimitiveRecord(typeThreshold, &threshold),
		tlv.MakePrimitiveRecord(typeTotal, &cosigners),
		tlv.MakePrimitiveRecord(typeScriptType, &scriptType),
		tlv.MakePrimitiveRecord(typeSorted, &sorted),
		tlv.MakePrimitiveRecord(typeNet, &netName),
		tlv.MakePrimitiveRecord(typeCosignList, &list),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}

	if version != exportVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidExport,
			version)
	}

	if string(netName) != net.Name {
		return nil, fmt.Errorf("%w: exported for %s, not %s",
			ErrInvalidExport, netName, net.Name)
	}

	infos, err := decodeCosignerList(list)
	if err != nil {
		return nil, err
	}

	w := Create(
		int(threshold), int(cosigners), keyring.MultisigType(scriptType),
		sorted == 1, net,
	)
	for _, info := range infos {
		if err := w.AddCosigner(info); err != nil {
			return nil, err
		}
	}

	log.Debugf("Imported %d-of-%d %v wallet with %d cosigners", w.m, w.n,
		w.scriptType, len(infos))

	return w, nil
}
