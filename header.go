// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "encoding/binary"

// Fixed-size header layout (§3.1, §4.3). Field offsets mirror the on-disk
// dex::Header struct: a uint8_t[8] magic, uint32_t checksum, uint8_t[20]
// SHA-1 signature, then a run of uint32_t fields through data_off_.
const (
	headerSize = 0x70
	minDexSize = 0x70
	maxDexSize = 200 * 1024 * 1024

	offMagic         = 0x00
	offChecksum      = 0x08
	offSignature     = 0x0C
	offFileSize      = 0x20
	offHeaderSize    = 0x24
	offEndianTag     = 0x28
	offLinkSize      = 0x2C
	offLinkOff       = 0x30
	offMapOff        = 0x34
	offStringIDsSize = 0x38
	offStringIDsOff  = 0x3C
	offTypeIDsSize   = 0x40
	offTypeIDsOff    = 0x44
	offProtoIDsSize  = 0x48
	offProtoIDsOff   = 0x4C
	offFieldIDsSize  = 0x50
	offFieldIDsOff   = 0x54
	offMethodIDsSize = 0x58
	offMethodIDsOff  = 0x5C
	offClassDefsSize = 0x60
	offClassDefsOff  = 0x64
	offDataSize      = 0x68
	offDataOff       = 0x6C

	endianConstant        uint32 = 0x12345678
	reverseEndianConstant uint32 = 0x78563412

	// maxMapListSize is the accepted upper bound on a map_list's size_
	// field (§4.3 step 7); real DEX files carry a few dozen map items.
	maxMapListSize = 1000
)

// DexHeader is the decoded fixed-size header (§3.3).
type DexHeader struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32

	// Version is "035", "037", ... for a "dex\n" magic, "cdex" for a
	// compact-dex magic, or "unknown(wiped)" when the candidate was
	// accepted without a magic (pointer-scan, §4.3 step 4).
	Version string
}

// hasDexMagic reports whether buf (at least 8 bytes) opens with a
// recognized DEX or CDEX magic, and if so decodes the version suffix.
func hasDexMagic(buf []byte) (version string, ok bool) {
	if len(buf) < 8 {
		return "", false
	}
	switch {
	case string(buf[0:4]) == "dex\n":
		return string(buf[4:7]), true
	case string(buf[0:4]) == "cdex":
		return "cdex", true
	default:
		return "", false
	}
}

// decodeHeader unpacks the fixed uint32 fields of a raw 0x70-byte header
// buffer. It does not validate anything; see verifyHeader.
func decodeHeader(buf []byte) DexHeader {
	le := binary.LittleEndian
	var h DexHeader
	copy(h.Magic[:], buf[offMagic:offMagic+8])
	h.Checksum = le.Uint32(buf[offChecksum:])
	copy(h.Signature[:], buf[offSignature:offSignature+20])
	h.FileSize = le.Uint32(buf[offFileSize:])
	h.HeaderSize = le.Uint32(buf[offHeaderSize:])
	h.EndianTag = le.Uint32(buf[offEndianTag:])
	h.LinkSize = le.Uint32(buf[offLinkSize:])
	h.LinkOff = le.Uint32(buf[offLinkOff:])
	h.MapOff = le.Uint32(buf[offMapOff:])
	h.StringIDsSize = le.Uint32(buf[offStringIDsSize:])
	h.StringIDsOff = le.Uint32(buf[offStringIDsOff:])
	h.TypeIDsSize = le.Uint32(buf[offTypeIDsSize:])
	h.TypeIDsOff = le.Uint32(buf[offTypeIDsOff:])
	h.ProtoIDsSize = le.Uint32(buf[offProtoIDsSize:])
	h.ProtoIDsOff = le.Uint32(buf[offProtoIDsOff:])
	h.FieldIDsSize = le.Uint32(buf[offFieldIDsSize:])
	h.FieldIDsOff = le.Uint32(buf[offFieldIDsOff:])
	h.MethodIDsSize = le.Uint32(buf[offMethodIDsSize:])
	h.MethodIDsOff = le.Uint32(buf[offMethodIDsOff:])
	h.ClassDefsSize = le.Uint32(buf[offClassDefsSize:])
	h.ClassDefsOff = le.Uint32(buf[offClassDefsOff:])
	h.DataSize = le.Uint32(buf[offDataSize:])
	h.DataOff = le.Uint32(buf[offDataOff:])
	return h
}

// verifyHeader implements the §4.3 acceptance steps shared by both scan
// strategies. addr is the candidate's absolute address (used to resolve
// map_off against the live mapping set); allowMissingMagic permits a
// candidate whose magic bytes were wiped, as the pointer-scan strategy
// requires, subject to the stricter field-range checks in steps 4-6.
func verifyHeader(buf []byte, addr uintptr, maps *MapIndex, allowMissingMagic bool) (DexHeader, bool) {
	if len(buf) < headerSize {
		return DexHeader{}, false
	}
	version, hasMagic := hasDexMagic(buf)
	if !hasMagic && !allowMissingMagic {
		return DexHeader{}, false
	}

	h := decodeHeader(buf)
	h.Version = version

	if !hasMagic {
		if h.EndianTag != endianConstant && h.EndianTag != reverseEndianConstant {
			return DexHeader{}, false
		}
		if h.HeaderSize < 0x40 || h.HeaderSize > 0x200 {
			return DexHeader{}, false
		}
		if h.FileSize < minDexSize || h.FileSize > maxDexSize {
			return DexHeader{}, false
		}
		if uint64(h.MapOff) < uint64(h.HeaderSize) || uint64(h.MapOff) >= uint64(h.FileSize) {
			return DexHeader{}, false
		}
		if uint64(h.StringIDsOff) < uint64(h.HeaderSize) || uint64(h.StringIDsOff) >= uint64(h.FileSize) {
			return DexHeader{}, false
		}
		h.Version = "unknown(wiped)"
	} else {
		if h.FileSize < minDexSize || h.FileSize > maxDexSize {
			return DexHeader{}, false
		}
	}

	mapAbsAddr := addr + uintptr(h.MapOff)
	if _, ok := maps.Contains(mapAbsAddr); !ok {
		return DexHeader{}, false
	}

	return h, true
}

// verifyMapListSize reads the map_list's leading size_ field at mapAddr and
// validates it against the accepted range (§4.3 step 7).
func verifyMapListSize(src Source, mapAddr uintptr) (uint32, bool) {
	buf, err := readExact(src, mapAddr, 4)
	if err != nil {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(buf)
	if size == 0 || size > maxMapListSize {
		return 0, false
	}
	return size, true
}
