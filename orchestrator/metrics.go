// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	dexunpacker "github.com/zygisk-tools/dexunpacker"
)

// metrics mirrors the resolver's §4.6 counters plus a scan-duration
// histogram, registered on an optional debug registry (§11 supplement).
// When no Registerer is supplied the counters are still updated in memory,
// just never exported.
type metrics struct {
	resolved                    prometheus.Counter
	skippedSystem               prometheus.Counter
	classNotFoundByNativeLookup prometheus.Counter
	classNotFoundOverall        prometheus.Counter
	methodNotFound              prometheus.Counter
	scanDuration                prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexunpacker",
			Name:      "methods_resolved_total",
			Help:      "Methods successfully force-resolved against the managed runtime.",
		}),
		skippedSystem: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexunpacker",
			Name:      "methods_skipped_system_total",
			Help:      "Methods skipped because their class belongs to a framework package.",
		}),
		classNotFoundByNativeLookup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexunpacker",
			Name:      "class_not_found_native_lookup_total",
			Help:      "Native find_class lookups that failed before falling back to loader strategies.",
		}),
		classNotFoundOverall: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexunpacker",
			Name:      "class_not_found_total",
			Help:      "Classes that could not be resolved by any strategy.",
		}),
		methodNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexunpacker",
			Name:      "method_not_found_total",
			Help:      "Classes resolved but whose method id lookup failed.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dexunpacker",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of one memory scan pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.resolved, m.skippedSystem, m.classNotFoundByNativeLookup,
			m.classNotFoundOverall, m.methodNotFound, m.scanDuration,
		)
	}

	return m
}

func (m *metrics) observeCounters(c dexunpacker.ResolverCounters) {
	m.resolved.Add(float64(c.Resolved))
	m.skippedSystem.Add(float64(c.SkippedSystem))
	m.classNotFoundByNativeLookup.Add(float64(c.ClassNotFoundByNativeLookup))
	m.classNotFoundOverall.Add(float64(c.ClassNotFoundOverall))
	m.methodNotFound.Add(float64(c.MethodNotFound))
}

func (m *metrics) observeScanDuration(seconds float64) {
	m.scanDuration.Observe(seconds)
}
