// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "testing"

func TestMapIndexContains(t *testing.T) {
	idx := NewMapIndex([]Mapping{
		{Start: 0x2000, End: 0x3000, Readable: true},
		{Start: 0x1000, End: 0x1500, Readable: true},
		{Start: 0x5000, End: 0x6000, Readable: true},
	})

	tests := []struct {
		addr      uintptr
		wantFound bool
		wantStart uintptr
	}{
		{0x1000, true, 0x1000},
		{0x14FF, true, 0x1000},
		{0x1500, false, 0},
		{0x1800, false, 0},
		{0x2500, true, 0x2000},
		{0x5FFF, true, 0x5000},
		{0x6000, false, 0},
		{0, false, 0},
	}

	for _, tt := range tests {
		m, ok := idx.Contains(tt.addr)
		if ok != tt.wantFound {
			t.Fatalf("Contains(0x%x) ok = %v, want %v", tt.addr, ok, tt.wantFound)
		}
		if ok && m.Start != tt.wantStart {
			t.Fatalf("Contains(0x%x) start = 0x%x, want 0x%x", tt.addr, m.Start, tt.wantStart)
		}
	}
}

func TestMapIndexSortedOnConstruction(t *testing.T) {
	idx := NewMapIndex([]Mapping{
		{Start: 0x3000, End: 0x4000},
		{Start: 0x1000, End: 0x2000},
		{Start: 0x2000, End: 0x3000},
	})
	all := idx.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Start > all[i].Start {
			t.Fatalf("mappings not sorted: %v", all)
		}
	}
}

func TestExcludedPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/dev/binder", true},
		{"/dev/ashmem/dalvik-main space", false},
		{"/dev/zero", false},
		{"/system/framework/boot.oat", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := excludedPath(tt.path); got != tt.want {
			t.Fatalf("excludedPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParseMapsLine(t *testing.T) {
	line := "7f1234500000-7f1234600000 r-xp 00000000 fd:00 1234  /system/lib64/libc.so"
	m, ok, err := parseMapsLine(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if m.Start != 0x7f1234500000 || m.End != 0x7f1234600000 {
		t.Fatalf("unexpected bounds: %+v", m)
	}
	if !m.Readable {
		t.Fatal("expected readable")
	}
	if m.Path != "/system/lib64/libc.so" {
		t.Fatalf("unexpected path: %q", m.Path)
	}
}

func TestParseMapsLineNonReadable(t *testing.T) {
	line := "7f1234500000-7f1234600000 ---p 00000000 00:00 0 "
	m, ok, err := parseMapsLine(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if m.Readable {
		t.Fatal("expected non-readable")
	}
}

func TestParseMapsLineMalformed(t *testing.T) {
	_, ok, err := parseMapsLine("not a maps line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for malformed line")
	}
}
