// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Mapping is one contiguous virtual memory region of the target process, the
// Go realization of spec.md §3.1's Mapping record.
type Mapping struct {
	Start    uintptr
	End      uintptr
	Readable bool
	Path     string
}

// Size returns the mapping's length in bytes.
func (m Mapping) Size() uintptr { return m.End - m.Start }

// Contains reports whether addr falls inside [Start, End).
func (m Mapping) Contains(addr uintptr) bool {
	return addr >= m.Start && addr < m.End
}

// excludedPath reports whether a mapping backed by path should be dropped
// from the scan set (§4.2): device-backed mappings are excluded unless the
// path names an ashmem or zero-page region, both of which behave like
// ordinary anonymous memory for our purposes.
func excludedPath(path string) bool {
	if !strings.HasPrefix(path, "/dev/") {
		return false
	}
	if strings.Contains(path, "ashmem") || strings.Contains(path, "zero") {
		return false
	}
	return true
}

// MapIndex is a sorted, non-overlapping set of mappings supporting O(log n)
// containment queries (§4.2).
type MapIndex struct {
	mappings []Mapping
}

// NewMapIndex copies and sorts mappings by Start address.
func NewMapIndex(mappings []Mapping) *MapIndex {
	cp := make([]Mapping, len(mappings))
	copy(cp, mappings)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })
	return &MapIndex{mappings: cp}
}

// Len returns the number of mappings held by the index.
func (idx *MapIndex) Len() int { return len(idx.mappings) }

// All returns the mappings in sorted order. The caller must not mutate it.
func (idx *MapIndex) All() []Mapping { return idx.mappings }

// Contains returns the mapping containing addr, if any, via binary search
// over the sorted mapping set.
func (idx *MapIndex) Contains(addr uintptr) (Mapping, bool) {
	n := len(idx.mappings)
	i := sort.Search(n, func(i int) bool { return idx.mappings[i].Start > addr })
	if i == 0 {
		return Mapping{}, false
	}
	m := idx.mappings[i-1]
	if m.Contains(addr) {
		return m, true
	}
	return Mapping{}, false
}

// SnapshotMappings parses /proc/self/maps, the same source the original
// implementation walks via the proc-maps crate, into a sorted, filtered
// mapping list: readable regions only, device-backed regions excluded per
// excludedPath. It intentionally does not reach for gopsutil's
// process.MemoryMaps, which aggregates statistics by backing path and does
// not expose per-region [start,end) boundaries or permission bits.
func SnapshotMappings() ([]Mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

func parseMaps(f *os.File) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		m, ok, err := parseMapsLine(line)
		if err != nil {
			return nil, fmt.Errorf("dex: parse /proc/self/maps line %q: %w", line, err)
		}
		if !ok {
			continue
		}
		if !m.Readable {
			continue
		}
		if excludedPath(m.Path) {
			continue
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseMapsLine parses one "/proc/pid/maps" record of the form:
//
//	<start>-<end> <perms> <offset> <dev> <inode>  <path>
//
// ok is false for malformed lines, which are skipped rather than treated as
// a fatal error; a best-effort scan should tolerate a kernel that changes
// this format across versions.
func parseMapsLine(line string) (Mapping, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, false, nil
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return Mapping{}, false, nil
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return Mapping{}, false, nil
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return Mapping{}, false, nil
	}
	perms := fields[1]
	readable := len(perms) > 0 && perms[0] == 'r'
	var path string
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}
	return Mapping{
		Start:    uintptr(start),
		End:      uintptr(end),
		Readable: readable,
		Path:     path,
	}, true, nil
}
