// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/zygisk-tools/dexunpacker/log"
)

// Options configures a scan/parse pass, the same shape as the teacher's
// pe.Options: a Logger field plus a handful of feature toggles.
type Options struct {
	// DeepSearch records whether the pointer-graph detection strategy runs
	// in addition to the magic-byte scan (§4.3 step 3). Scanner does not
	// read this field: Scanner.Scan takes the switch as its argument.
	DeepSearch bool

	// ChunkSizeBytes overrides the scanner's sliding chunk size (§4.3) when
	// nonzero; zero means the default ChunkSize (1 MiB).
	ChunkSizeBytes int

	// Logger receives progress and diagnostic lines. A nil Logger is
	// filled in by FillDefaults with one that writes LevelError and above
	// to stderr.
	Logger *log.Helper
}

// FillDefaults fills any zero-valued field with its default, the same
// pattern the teacher's pe.Options applies before use.
func (o *Options) FillDefaults() {
	if o.Logger == nil {
		o.Logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
	}
}

// DefaultOptions returns an Options value equivalent to the zero value
// after FillDefaults, writing at LevelError to stderr.
func DefaultOptions() *Options {
	o := &Options{}
	o.FillDefaults()
	return o
}

// humanSize is a thin wrapper around go-humanize used at every log site
// that reports a candidate or file size, so scan/parse logs read in units
// a person can parse ("12 MB") rather than a raw byte count.
func humanSize(n uint64) string {
	return humanize.Bytes(n)
}
