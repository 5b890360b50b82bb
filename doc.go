// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package dex locates, reads and parses Android DEX (Dalvik Executable)
// images that are resident in the current process's address space.
//
// It is built to be loaded into a target application by a host injection
// framework (e.g. a Zygisk module) rather than to run standalone: the scanner
// walks the process's own memory through the kernel's cross-process vector
// read primitive, the parser reconstructs the DEX structural model out of
// non-contiguous reads, and the resolver drives a managed-runtime adapter
// (package vm) to force lazily-compiled method bodies to materialize before
// the orchestrator (package orchestrator) writes the recovered bytes to
// disk.
package dex
