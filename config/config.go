// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package config loads the orchestrator's static configuration: the
// whitelist and force-resolve marker files the host Zygisk module ships
// alongside the library (§6), plus an optional YAML tunables file.
package config

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// ReadLineList reads a line-oriented config file, skipping blank lines and
// "#"-prefixed comments, the same convention the whitelist and
// force_resolve files use. A leading UTF-16 BOM is tolerated and stripped,
// the domain transplant of the teacher's own
// golang.org/x/text/encoding/unicode use for decoding resource strings.
func ReadLineList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw, err = stripUTF16BOM(raw)
	if err != nil {
		return nil, err
	}

	var out []string
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// stripUTF16BOM transcodes raw to UTF-8 if it opens with a UTF-16 BOM,
// otherwise returns it unchanged.
func stripUTF16BOM(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return raw, nil
	}
	isLE := raw[0] == 0xFF && raw[1] == 0xFE
	isBE := raw[0] == 0xFE && raw[1] == 0xFF
	if !isLE && !isBE {
		return raw, nil
	}

	enc := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	if isBE {
		enc = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// ForceResolvePresent reports whether a force_resolve.txt marker file
// exists at path: its presence, not its contents, is what matters (§6).
func ForceResolvePresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Tunables holds the optional dexunpacker.yaml scan/resolve knobs, beyond
// the static whitelist/force_resolve files (§9.3 supplement).
type Tunables struct {
	// ChunkSizeBytes overrides dex.ChunkSize when nonzero.
	ChunkSizeBytes int `yaml:"chunk_size_bytes"`

	// DeepSearch enables the pointer-graph scan strategy.
	DeepSearch bool `yaml:"deep_search"`

	// MaxDexSizeBytes overrides the parser's structural sanity cap when
	// nonzero.
	MaxDexSizeBytes int `yaml:"max_dex_size_bytes"`

	// ResolverHeartbeat overrides the resolver's progress-log interval
	// when nonzero.
	ResolverHeartbeat int `yaml:"resolver_heartbeat"`

	// StartupDelaySeconds overrides the orchestrator's post-specialize
	// delay when nonzero.
	StartupDelaySeconds int `yaml:"startup_delay_seconds"`
}

// defaultTunables mirrors the values spec.md's components hard-code.
func defaultTunables() Tunables {
	return Tunables{
		ChunkSizeBytes:      1 << 20,
		DeepSearch:          true,
		MaxDexSizeBytes:     100 * 1024 * 1024,
		ResolverHeartbeat:   1000,
		StartupDelaySeconds: 10,
	}
}

// LoadTunables reads and validates a dexunpacker.yaml file. A missing file
// is not an error: defaultTunables is returned unchanged, since the
// tunables file is optional (§9.3).
func LoadTunables(path string) (Tunables, error) {
	t := defaultTunables()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return Tunables{}, err
	}

	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tunables{}, err
	}
	if err := t.validate(); err != nil {
		return Tunables{}, err
	}
	return t, nil
}

func (t Tunables) validate() error {
	if t.ChunkSizeBytes <= 0 {
		return errInvalidTunable("chunk_size_bytes must be positive")
	}
	if t.MaxDexSizeBytes <= 0 {
		return errInvalidTunable("max_dex_size_bytes must be positive")
	}
	if t.ResolverHeartbeat <= 0 {
		return errInvalidTunable("resolver_heartbeat must be positive")
	}
	if t.StartupDelaySeconds < 0 {
		return errInvalidTunable("startup_delay_seconds must not be negative")
	}
	return nil
}

type tunableError string

func (e tunableError) Error() string { return string(e) }

func errInvalidTunable(msg string) error { return tunableError(msg) }
