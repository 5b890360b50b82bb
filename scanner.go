// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"encoding/binary"
	"sort"
	"unsafe"
)

// DexCandidate is a located-but-not-yet-parsed DEX image (§3.2).
type DexCandidate struct {
	Addr    uintptr
	Size    uint32
	Version string
	// Source names the detector that found this candidate: "MagicScan" or
	// "PointerScan".
	Source string
}

// eightByteWordHost reports whether this build targets an 8-byte-pointer
// architecture, gating the pointer-scan strategy exactly as the original
// gated on sizeof(usize) == 8.
const eightByteWordHost = unsafe.Sizeof(uintptr(0)) == 8

// Scanner implements C3: it walks a MapIndex through a Source, applying the
// magic-byte and pointer-graph detection strategies to each mapping.
type Scanner struct {
	src  Source
	maps *MapIndex
	opts *Options
}

// NewScanner builds a Scanner reading through src over the given map index,
// logging at the discarding default level until WithOptions attaches a
// caller-supplied Logger.
func NewScanner(src Source, maps *MapIndex) *Scanner {
	return &Scanner{src: src, maps: maps, opts: DefaultOptions()}
}

// WithOptions attaches opts (filled in with FillDefaults) to the scanner,
// the same builder shape the teacher's File.opts assignment follows, and
// returns the receiver for chaining.
func (s *Scanner) WithOptions(opts *Options) *Scanner {
	opts.FillDefaults()
	s.opts = opts
	return s
}

// Scan walks every readable, non-excluded mapping already present in the
// Scanner's MapIndex, returning located candidates sorted by address with
// duplicate addresses collapsed (§4.3 final step). When deepSearch is false
// only the magic-byte detector runs; when true the pointer-graph detector
// also runs, but only on an 8-byte-word host.
func (s *Scanner) Scan(deepSearch bool) []DexCandidate {
	var results []DexCandidate
	for _, m := range s.maps.All() {
		results = append(results, s.scanMapping(m, deepSearch)...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Addr < results[j].Addr })
	results = dedupByAddr(results)
	return results
}

func dedupByAddr(in []DexCandidate) []DexCandidate {
	if len(in) == 0 {
		return in
	}
	out := in[:1]
	for _, c := range in[1:] {
		if c.Addr == out[len(out)-1].Addr {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Scanner) scanMapping(m Mapping, deepSearch bool) []DexCandidate {
	var results []DexCandidate
	size := m.Size()
	chunkSize := s.chunkSize()
	buf := make([]byte, chunkSize)

	var offset uintptr
	for offset < size {
		toRead := chunkSize
		if remaining := size - offset; remaining < uintptr(toRead) {
			toRead = int(remaining)
		}
		chunkAddr := m.Start + offset

		n, err := s.src.ReadAt(chunkAddr, buf[:toRead])
		if err != nil || n == 0 {
			break
		}
		valid := buf[:n]

		results = append(results, s.scanBufferMagic(valid, chunkAddr)...)
		if deepSearch && eightByteWordHost {
			results = append(results, s.scanBufferPointers(valid)...)
		}

		offset += uintptr(toRead)
	}
	return results
}

// chunkSize returns the caller-tunable sliding window size (§4.3), falling
// back to ChunkSize when the attached Options leaves it at zero.
func (s *Scanner) chunkSize() int {
	if s.opts != nil && s.opts.ChunkSizeBytes > 0 {
		return s.opts.ChunkSizeBytes
	}
	return ChunkSize
}

// scanBufferMagic implements the 4-byte-step magic detector (§4.3 step 2).
func (s *Scanner) scanBufferMagic(buf []byte, baseAddr uintptr) []DexCandidate {
	var results []DexCandidate
	for i := 0; i+8 <= len(buf); i += 4 {
		if string(buf[i:i+4]) != "dex\n" && string(buf[i:i+4]) != "cdex" {
			continue
		}
		addr := baseAddr + uintptr(i)
		if c, ok := s.verifyAndParse(addr, false); ok {
			c.Source = "MagicScan"
			results = append(results, c)
		}
	}
	return results
}

// scanBufferPointers implements the 8-byte-step pointer-graph detector
// (§4.3 step 3): every 4-aligned nonzero little-endian u64 that resolves
// into a known mapping is treated as a candidate DEX base address, even
// without magic bytes present.
func (s *Scanner) scanBufferPointers(buf []byte) []DexCandidate {
	var results []DexCandidate
	for i := 0; i+8 <= len(buf); i += 8 {
		ptr := uintptr(binary.LittleEndian.Uint64(buf[i : i+8]))
		if ptr == 0 || ptr%4 != 0 {
			continue
		}
		if _, ok := s.maps.Contains(ptr); !ok {
			continue
		}
		if c, ok := s.verifyAndParse(ptr, true); ok {
			c.Source = "PointerScan"
			results = append(results, c)
		}
	}
	return results
}

// verifyAndParse reads and validates a fixed-size header at addr, then the
// map_list size at the header's declared map offset, mirroring
// verify_and_parse in the reference implementation (§4.3 steps 1, 4-7).
func (s *Scanner) verifyAndParse(addr uintptr, allowMissingMagic bool) (DexCandidate, bool) {
	header, err := readExact(s.src, addr, headerSize)
	if err != nil {
		return DexCandidate{}, false
	}

	h, ok := verifyHeader(header, addr, s.maps, allowMissingMagic)
	if !ok {
		return DexCandidate{}, false
	}

	mapAbsAddr := addr + uintptr(h.MapOff)
	if _, ok := verifyMapListSize(s.src, mapAbsAddr); !ok {
		return DexCandidate{}, false
	}

	s.opts.Logger.Debugf("candidate accepted at 0x%x: version=%s size=%s", addr, h.Version, humanSize(uint64(h.FileSize)))

	return DexCandidate{
		Addr:    addr,
		Size:    h.FileSize,
		Version: h.Version,
		Source:  "Unknown",
	}, true
}
