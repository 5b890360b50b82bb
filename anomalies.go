// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

// Anomaly names are non-fatal oddities a caller may want to surface without
// rejecting the candidate outright, the same reporting convention the
// teacher uses for PE structural warnings.
var (
	AnoEndianTagReversed   = "endian tag is REVERSE_ENDIAN_CONSTANT; byte-swapped fields not corrected"
	AnoCdexMagic           = "candidate carries a compact-dex (cdex) magic; code items are read as plain dex layout"
	AnoWipedMagicAccepted  = "candidate accepted without a recognizable magic via pointer-graph verification"
	AnoClassDataUnparsable = "class_data_item could not be parsed past its declared offset; code items for this class are missing"
	AnoStringDataMissing   = "string_id entry had a nonzero offset that could not be read"
)

// Anomalies inspects a parsed DEX and reports the non-fatal oddities found
// in its header and structure, mirroring the teacher's Anomalies []string
// convention rather than surfacing every oddity as a hard error.
func Anomalies(d *ParsedDex) []string {
	var out []string

	if d.Header.EndianTag == reverseEndianConstant {
		out = append(out, AnoEndianTagReversed)
	}
	if d.Header.Version == "cdex" {
		out = append(out, AnoCdexMagic)
	}
	if d.Header.Version == "unknown(wiped)" {
		out = append(out, AnoWipedMagicAccepted)
	}

	for i, id := range d.StringIDs {
		if id.StringDataOff != 0 {
			if _, ok := d.Strings[uint32(i)]; !ok {
				out = append(out, AnoStringDataMissing)
				break
			}
		}
	}

	return out
}
