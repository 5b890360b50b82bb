// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"encoding/binary"
	"testing"
)

// memSource is an in-memory Source fixture for tests, playing the same
// role FileSource plays for the CLI but without touching the filesystem.
type memSource struct {
	data []byte
}

func (m *memSource) ReadAt(addr uintptr, buf []byte) (int, error) {
	if addr >= uintptr(len(m.data)) {
		return 0, &Error{Kind: KindBadAddress, Addr: addr, Err: ErrNotMapped}
	}
	n := copy(buf, m.data[addr:])
	return n, nil
}

// buildSyntheticDex constructs a minimal valid DEX image at the given
// offset within buf: header, a one-entry map_list at map_off, and a
// string_ids table of size zero (so the parser has nothing further to
// chase). Returns the total declared file size.
func buildSyntheticDex(buf []byte, at int, magic string) int {
	const mapOff = 0x78
	const fileSize = 0x90

	copy(buf[at+offMagic:], magic)
	binary.LittleEndian.PutUint32(buf[at+offFileSize:], fileSize)
	binary.LittleEndian.PutUint32(buf[at+offHeaderSize:], headerSize)
	binary.LittleEndian.PutUint32(buf[at+offEndianTag:], endianConstant)
	binary.LittleEndian.PutUint32(buf[at+offMapOff:], mapOff)
	binary.LittleEndian.PutUint32(buf[at+offStringIDsSize:], 0)
	binary.LittleEndian.PutUint32(buf[at+offStringIDsOff:], headerSize)

	// map_list: size_ = 1
	binary.LittleEndian.PutUint32(buf[at+mapOff:], 1)
	return fileSize
}

func TestScannerMagicScanFindsSyntheticDex(t *testing.T) {
	buf := make([]byte, 0x1000)
	buildSyntheticDex(buf, 0x100, "dex\n035\x00")

	src := &memSource{data: buf}
	maps := NewMapIndex([]Mapping{{Start: 0, End: uintptr(len(buf)), Readable: true}})
	scanner := NewScanner(src, maps)

	candidates := scanner.Scan(false)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(candidates), candidates)
	}
	if candidates[0].Addr != 0x100 {
		t.Fatalf("candidate addr = 0x%x, want 0x100", candidates[0].Addr)
	}
	if candidates[0].Source != "MagicScan" {
		t.Fatalf("source = %q, want MagicScan", candidates[0].Source)
	}
	if candidates[0].Version != "035" {
		t.Fatalf("version = %q, want 035", candidates[0].Version)
	}
}

func TestScannerPointerScanFindsWipedMagicDex(t *testing.T) {
	buf := make([]byte, 0x1000)
	// Wipe the magic so only the pointer-graph strategy can find it.
	buildSyntheticDex(buf, 0x200, "\x00\x00\x00\x00\x00\x00\x00\x00")

	// Plant an 8-byte-aligned, 4-divisible pointer to the candidate
	// elsewhere in the buffer.
	binary.LittleEndian.PutUint64(buf[0x40:], 0x200)

	src := &memSource{data: buf}
	maps := NewMapIndex([]Mapping{{Start: 0, End: uintptr(len(buf)), Readable: true}})
	scanner := NewScanner(src, maps)

	if !eightByteWordHost {
		t.Skip("pointer-scan strategy only runs on 8-byte-word hosts")
	}

	candidates := scanner.Scan(true)
	found := false
	for _, c := range candidates {
		if c.Addr == 0x200 {
			found = true
			if c.Source != "PointerScan" {
				t.Fatalf("source = %q, want PointerScan", c.Source)
			}
			if c.Version != "unknown(wiped)" {
				t.Fatalf("version = %q, want unknown(wiped)", c.Version)
			}
		}
	}
	if !found {
		t.Fatal("expected pointer-scan to find the wiped-magic candidate")
	}
}

func TestScannerDedupesAcrossDetectors(t *testing.T) {
	buf := make([]byte, 0x1000)
	buildSyntheticDex(buf, 0x100, "dex\n035\x00")
	// Point at the same address the magic scanner will also find.
	binary.LittleEndian.PutUint64(buf[0x40:], 0x100)

	src := &memSource{data: buf}
	maps := NewMapIndex([]Mapping{{Start: 0, End: uintptr(len(buf)), Readable: true}})
	scanner := NewScanner(src, maps)

	candidates := scanner.Scan(true)
	count := 0
	for _, c := range candidates {
		if c.Addr == 0x100 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one candidate at 0x100 after dedup, got %d", count)
	}
}

func TestScannerNoCandidatesInEmptyBuffer(t *testing.T) {
	buf := make([]byte, 0x1000)
	src := &memSource{data: buf}
	maps := NewMapIndex([]Mapping{{Start: 0, End: uintptr(len(buf)), Readable: true}})
	scanner := NewScanner(src, maps)

	if candidates := scanner.Scan(true); len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(candidates))
	}
}
