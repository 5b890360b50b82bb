// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package orchestrator wires the memory scanner, parser and resolver
// (dex.Scanner, dex.Parser, dex.Resolver) into the single background pass
// C7 describes: wait for the target process to settle, scan its address
// space, parse every candidate found, optionally force-resolve its
// methods, and write the recovered bytes to disk.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	dexunpacker "github.com/zygisk-tools/dexunpacker"
	"github.com/zygisk-tools/dexunpacker/config"
	"github.com/zygisk-tools/dexunpacker/log"
	"github.com/zygisk-tools/dexunpacker/vm"
)

// dumpSubdir is where recovered DEX images are written, relative to the
// app's data directory (§6): "<packageDir>/files/rust_dumps/".
const dumpSubdir = "files/rust_dumps"

// Config configures one orchestrator instance.
type Config struct {
	// PackageDir is the target app's data directory,
	// e.g. "/data/data/<pkg>".
	PackageDir string

	// PackageName is the package this Orchestrator instance is attached to,
	// checked against WhitelistPath on every pass (§4.7, §6: "presence of
	// the running package enables the scan"). An empty whitelist (no
	// WhitelistPath, or an empty file) scans unconditionally, matching the
	// reference implementation's behavior when no whitelist was shipped.
	PackageName string

	// WhitelistPath and ForceResolvePath are the config files read at
	// construction (§6) and re-read by the watcher New starts whenever
	// either changes; ForceResolvePath's mere presence enables
	// force-resolution.
	WhitelistPath    string
	ForceResolvePath string

	// StartupDelay is how long to wait after construction before
	// scanning, giving the target process time to finish specializing.
	// When zero, Tunables.StartupDelaySeconds is used, and 10s if that is
	// zero too.
	StartupDelay time.Duration

	Tunables config.Tunables
	Logger   *log.Helper

	// VM is the managed-runtime adapter used for force-resolution. May be
	// nil if ForceResolvePath does not exist.
	VM vm.Adapter

	// Registerer optionally receives the orchestrator's Prometheus
	// counters and histogram (§11 supplement). A nil Registerer skips
	// metric registration.
	Registerer prometheus.Registerer
}

// Orchestrator runs scan -> parse -> resolve -> dump passes (C7).
type Orchestrator struct {
	cfg     Config
	metrics *metrics
	watcher *config.Watcher

	mu        sync.RWMutex
	whitelist map[string]struct{}
	forceOn   bool
}

// New builds an Orchestrator, loading the whitelist and force-resolve
// marker synchronously (§6: configuration is read once, at construction,
// matching pre_app_specialize's static read), then starts a background
// watch on both files (§9.3/§11 supplement) so a long-lived host process
// picks up edits without restarting.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.StartupDelay == 0 {
		cfg.StartupDelay = time.Duration(cfg.Tunables.StartupDelaySeconds) * time.Second
	}
	if cfg.StartupDelay == 0 {
		cfg.StartupDelay = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
	}

	o := &Orchestrator{cfg: cfg}

	if err := o.reloadConfig(); err != nil {
		return nil, err
	}

	if cfg.WhitelistPath != "" {
		w, err := config.Watch(cfg.WhitelistPath, cfg.ForceResolvePath, func() {
			if err := o.reloadConfig(); err != nil {
				cfg.Logger.Warnf("failed to reload whitelist/force_resolve: %v", err)
			}
		})
		if err != nil {
			cfg.Logger.Warnf("failed to watch whitelist directory, edits require a restart: %v", err)
		} else {
			o.watcher = w
		}
	}

	o.metrics = newMetrics(cfg.Registerer)

	return o, nil
}

// reloadConfig re-reads WhitelistPath and ForceResolvePath and swaps in the
// result atomically, called once synchronously from New and again by the
// watcher on every change.
func (o *Orchestrator) reloadConfig() error {
	var whitelist map[string]struct{}
	if o.cfg.WhitelistPath != "" {
		lines, err := config.ReadLineList(o.cfg.WhitelistPath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		whitelist = make(map[string]struct{}, len(lines))
		for _, l := range lines {
			whitelist[l] = struct{}{}
		}
	}

	var forceOn bool
	if o.cfg.ForceResolvePath != "" {
		forceOn = config.ForceResolvePresent(o.cfg.ForceResolvePath)
	}

	o.mu.Lock()
	o.whitelist = whitelist
	o.forceOn = forceOn
	o.mu.Unlock()
	return nil
}

// isWhitelisted reports whether PackageName should be scanned: an empty or
// absent whitelist scans unconditionally, otherwise PackageName must appear
// in it (§4.7, §6).
func (o *Orchestrator) isWhitelisted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.whitelist) == 0 {
		return true
	}
	_, ok := o.whitelist[o.cfg.PackageName]
	return ok
}

func (o *Orchestrator) isForceResolveOn() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.forceOn
}

// Close stops the background config watcher, if one was started.
func (o *Orchestrator) Close() error {
	if o.watcher == nil {
		return nil
	}
	return o.watcher.Close()
}

// PassResult summarizes one completed scan/parse/resolve/dump pass.
type PassResult struct {
	PassID     string
	Candidates int
	Dumped     int
	Counters   dexunpacker.ResolverCounters
}

// Run waits StartupDelay then executes exactly one pass: scan the current
// process's address space, parse every candidate, force-resolve methods
// when enabled, and write recovered images to PackageDir/files/rust_dumps.
// Mirrors post_app_specialize's spawned-thread body.
func (o *Orchestrator) Run() (PassResult, error) {
	time.Sleep(o.cfg.StartupDelay)
	return o.runPass()
}

func (o *Orchestrator) runPass() (PassResult, error) {
	passID := uuid.NewString()
	log := o.cfg.Logger

	if !o.isWhitelisted() {
		log.Infof("pass %s: package %q not in whitelist, skipping scan", passID, o.cfg.PackageName)
		return PassResult{PassID: passID}, nil
	}

	if rss, vms, err := processMemoryInfo(); err == nil {
		log.Infof("pass %s starting, rss=%s vms=%s", passID, humanize.Bytes(rss), humanize.Bytes(vms))
	}

	dumpDir := filepath.Join(o.cfg.PackageDir, dumpSubdir)
	if err := os.RemoveAll(dumpDir); err != nil {
		return PassResult{}, err
	}
	if err := os.MkdirAll(dumpDir, 0o700); err != nil {
		return PassResult{}, err
	}

	start := time.Now()

	mappings, err := dexunpacker.SnapshotMappings()
	if err != nil {
		return PassResult{}, err
	}
	maps := dexunpacker.NewMapIndex(mappings)
	src := dexunpacker.NewProcessSource()
	scanner := dexunpacker.NewScanner(src, maps).WithOptions(&dexunpacker.Options{
		DeepSearch:     o.cfg.Tunables.DeepSearch,
		ChunkSizeBytes: o.cfg.Tunables.ChunkSizeBytes,
		Logger:         o.cfg.Logger,
	})

	candidates := scanner.Scan(o.cfg.Tunables.DeepSearch)
	o.metrics.observeScanDuration(time.Since(start).Seconds())
	log.Infof("pass %s: %d candidates found", passID, len(candidates))

	result := PassResult{PassID: passID, Candidates: len(candidates)}

	for i, c := range candidates {
		parsed, err := dexunpacker.ParseDexAtWithSizeCap(src, c.Addr, o.cfg.Tunables.MaxDexSizeBytes)
		if err != nil {
			log.Warnf("pass %s: failed to parse candidate at 0x%x: %v", passID, c.Addr, err)
			continue
		}

		if o.isForceResolveOn() && o.cfg.VM != nil {
			resolver := dexunpacker.NewResolver(o.cfg.VM, log.Infof).WithHeartbeat(o.cfg.Tunables.ResolverHeartbeat)
			counters := resolver.ForceResolveMethods(parsed.Methods)
			result.Counters.Resolved += counters.Resolved
			result.Counters.SkippedSystem += counters.SkippedSystem
			result.Counters.ClassNotFoundByNativeLookup += counters.ClassNotFoundByNativeLookup
			result.Counters.ClassNotFoundOverall += counters.ClassNotFoundOverall
			result.Counters.MethodNotFound += counters.MethodNotFound
			o.metrics.observeCounters(counters)
		}

		name := fmt.Sprintf("dex_%d_%x.dex", i, c.Addr)
		path := filepath.Join(dumpDir, name)
		if err := o.dumpCandidate(src, c, path); err != nil {
			log.Warnf("pass %s: failed to dump candidate at 0x%x: %v", passID, c.Addr, err)
			continue
		}
		log.Infof("pass %s: dumped candidate at 0x%x (%s, %s) to %s",
			passID, c.Addr, c.Version, humanize.Bytes(uint64(c.Size)), path)
		result.Dumped++
	}

	log.Infof("pass %s complete: %d/%d candidates dumped", passID, result.Dumped, result.Candidates)
	return result, nil
}

// dumpCandidate reads the full declared file size from the candidate's live
// address and writes it to path, the direct analogue of
// dump_dex_to_file's from_raw_parts read.
func (o *Orchestrator) dumpCandidate(src dexunpacker.Source, c dexunpacker.DexCandidate, path string) error {
	buf := make([]byte, c.Size)
	n, err := src.ReadAt(c.Addr, buf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf[:n], 0o600)
}

// processMemoryInfo reports the current process's RSS and VMS via
// gopsutil, logged alongside each pass purely for correlation (§10): this
// is not the source of truth for C2's mapping set, which reads
// /proc/self/maps directly.
func processMemoryInfo() (rss, vms uint64, err error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	return info.RSS, info.VMS, nil
}
