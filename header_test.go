// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"encoding/binary"
	"testing"
)

// buildHeaderBytes constructs a minimal, internally-consistent 0x70-byte
// DEX header for use as a test fixture.
func buildHeaderBytes(magic string, fileSize, headerSizeField, endianTag, mapOff, stringIDsOff uint32) []byte {
	buf := make([]byte, headerSize)
	copy(buf[offMagic:], magic)
	binary.LittleEndian.PutUint32(buf[offFileSize:], fileSize)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], headerSizeField)
	binary.LittleEndian.PutUint32(buf[offEndianTag:], endianTag)
	binary.LittleEndian.PutUint32(buf[offMapOff:], mapOff)
	binary.LittleEndian.PutUint32(buf[offStringIDsOff:], stringIDsOff)
	return buf
}

func TestVerifyHeaderWithMagic(t *testing.T) {
	buf := buildHeaderBytes("dex\n035\x00", 0x1000, headerSize, endianConstant, 0x70, 0x80)
	maps := NewMapIndex([]Mapping{{Start: 0, End: 0x2000, Readable: true}})

	h, ok := verifyHeader(buf, 0, maps, false)
	if !ok {
		t.Fatal("expected header to verify")
	}
	if h.Version != "035" {
		t.Fatalf("version = %q, want %q", h.Version, "035")
	}
	if h.FileSize != 0x1000 {
		t.Fatalf("file size = 0x%x", h.FileSize)
	}
}

func TestVerifyHeaderRejectsBadMagicWithoutAllow(t *testing.T) {
	buf := buildHeaderBytes("xxxx\x00\x00\x00", 0x1000, headerSize, endianConstant, 0x70, 0x80)
	maps := NewMapIndex([]Mapping{{Start: 0, End: 0x2000, Readable: true}})

	if _, ok := verifyHeader(buf, 0, maps, false); ok {
		t.Fatal("expected verification to fail without magic and without allowMissingMagic")
	}
}

func TestVerifyHeaderAcceptsWipedMagicWhenAllowed(t *testing.T) {
	buf := buildHeaderBytes("\x00\x00\x00\x00\x00\x00\x00\x00", 0x1000, 0x70, endianConstant, 0x70, 0x80)
	maps := NewMapIndex([]Mapping{{Start: 0, End: 0x2000, Readable: true}})

	h, ok := verifyHeader(buf, 0, maps, true)
	if !ok {
		t.Fatal("expected wiped-magic header to verify under pointer-scan rules")
	}
	if h.Version != "unknown(wiped)" {
		t.Fatalf("version = %q, want unknown(wiped)", h.Version)
	}
}

func TestVerifyHeaderRejectsBadEndianTagWhenMagicMissing(t *testing.T) {
	buf := buildHeaderBytes("\x00\x00\x00\x00\x00\x00\x00\x00", 0x1000, 0x70, 0xDEADBEEF, 0x70, 0x80)
	maps := NewMapIndex([]Mapping{{Start: 0, End: 0x2000, Readable: true}})

	if _, ok := verifyHeader(buf, 0, maps, true); ok {
		t.Fatal("expected verification to fail on an unrecognized endian tag")
	}
}

func TestVerifyHeaderRejectsMapOffOutsideMappedRange(t *testing.T) {
	buf := buildHeaderBytes("dex\n035\x00", 0x1000, headerSize, endianConstant, 0x70, 0x80)
	// No mapping covers map_off's absolute address.
	maps := NewMapIndex([]Mapping{{Start: 0x9000, End: 0xA000, Readable: true}})

	if _, ok := verifyHeader(buf, 0, maps, false); ok {
		t.Fatal("expected verification to fail when map_off falls outside any mapping")
	}
}

func TestVerifyHeaderRejectsOversizedFile(t *testing.T) {
	buf := buildHeaderBytes("dex\n035\x00", maxDexSize+1, headerSize, endianConstant, 0x70, 0x80)
	maps := NewMapIndex([]Mapping{{Start: 0, End: 0x2000, Readable: true}})

	if _, ok := verifyHeader(buf, 0, maps, false); ok {
		t.Fatal("expected verification to fail for an oversized declared file_size")
	}
}

func TestHasDexMagic(t *testing.T) {
	tests := []struct {
		name      string
		buf       []byte
		wantVer   string
		wantFound bool
	}{
		{"dex", append([]byte("dex\n035\x00"), make([]byte, 8)...), "035", true},
		{"cdex", append([]byte("cdex\x00\x00\x00\x00"), make([]byte, 8)...), "cdex", true},
		{"none", append([]byte("junk0000"), make([]byte, 8)...), "", false},
		{"short", []byte("dex\n"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ver, ok := hasDexMagic(tt.buf)
			if ok != tt.wantFound {
				t.Fatalf("ok = %v, want %v", ok, tt.wantFound)
			}
			if ok && ver != tt.wantVer {
				t.Fatalf("version = %q, want %q", ver, tt.wantVer)
			}
		})
	}
}
