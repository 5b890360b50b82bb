// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build gofuzz

package dex

// FuzzParseDex is a go-fuzz entry point adapting the teacher's Fuzz(data
// []byte) int convention to our byte stream: data is treated as an
// in-memory DEX image, read through a byteSliceSource, and run through the
// full header-verify plus parse path.
func FuzzParseDex(data []byte) int {
	if len(data) < headerSize {
		return 0
	}

	src := &byteSliceSource{data: data}
	maps := NewMapIndex([]Mapping{{Start: 0, End: uintptr(len(data)), Readable: true}})

	h, ok := verifyHeader(data, 0, maps, true)
	if !ok {
		return 0
	}
	if _, ok := verifyMapListSize(src, uintptr(h.MapOff)); !ok {
		return 0
	}
	if _, err := ParseDexAt(src, 0); err != nil {
		return 0
	}
	return 1
}

// byteSliceSource is a minimal in-memory Source used only by the fuzz
// entry point, where mmapping a temp file would be unnecessary overhead.
type byteSliceSource struct {
	data []byte
}

func (s *byteSliceSource) ReadAt(addr uintptr, buf []byte) (int, error) {
	if addr >= uintptr(len(s.data)) {
		return 0, &Error{Kind: KindBadAddress, Addr: addr, Err: ErrNotMapped}
	}
	n := copy(buf, s.data[addr:])
	return n, nil
}
