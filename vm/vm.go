// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package vm narrows the managed-runtime operations the resolver needs down
// to a small adapter interface (§6), so the core dex package never imports
// JNI directly. A cgo-backed realization lives in jni.go behind the cgo
// build tag; callers embedding this library outside of a JNI host can supply
// their own Adapter instead.
package vm

import "errors"

var (
	// ErrVMFault is returned for a recoverable JNI failure: the pending
	// exception was cleared successfully and the caller should treat the
	// operation as "not found" rather than abort.
	ErrVMFault = errors.New("vm: recoverable JNI fault")

	// ErrFatal is returned when a pending JNI exception could not be
	// cleared. The caller must abort the current resolution pass; the
	// JNIEnv is no longer in a known-good state.
	ErrFatal = errors.New("vm: unrecoverable JNI state, aborting")

	// ErrNullResult is returned when a call that is expected to produce a
	// non-null object reference returned null instead (e.g.
	// getSystemClassLoader returning null).
	ErrNullResult = errors.New("vm: call returned null")
)

// Class is an opaque handle to a jclass local reference.
type Class interface{}

// Loader is an opaque handle to a global ref held on a ClassLoader
// instance, kept alive across the whole resolution pass.
type Loader interface{}

// Adapter is the narrow set of managed-runtime operations the resolver (C6)
// needs performed against a live ART instance. Implementations must clear
// any pending exception before returning a non-fatal error, and must return
// ErrFatal when the clear itself fails so the caller can abort immediately
// rather than make further JNI calls on a broken env.
type Adapter interface {
	// AttachDaemon attaches the calling OS thread to the JVM as a daemon
	// thread for the rest of the pass.
	AttachDaemon() error

	// Detach releases the thread attached by AttachDaemon.
	Detach() error

	// FindClass resolves a slash-separated class name (e.g.
	// "java/lang/String") against the current thread's defining loader.
	FindClass(slashName string) (Class, error)

	// SystemClassLoader returns ClassLoader.getSystemClassLoader().
	SystemClassLoader() (Loader, error)

	// AppClassLoader returns the application's class loader via
	// ActivityThread.currentActivityThread().getApplication().getClassLoader(),
	// or ErrNullResult at any step that returns null (§9: Open Question
	// decision — proceed with system loader only when this happens).
	AppClassLoader() (Loader, error)

	// LoadClass calls loader.loadClass(dotName).
	LoadClass(loader Loader, dotName string) (Class, error)

	// ForName calls Class.forName(dotName, initialize=false, loader).
	// initialize is always false: running a class's static initializer
	// from inside a Zygisk-hosted daemon thread risks a crash or
	// anti-tamper trip, so ART is only asked to define and link the
	// class, not run its <clinit>.
	ForName(dotName string, loader Loader) (Class, error)

	// GetMethodID resolves an instance method by name and JNI signature.
	GetMethodID(cls Class, name, signature string) error

	// GetStaticMethodID resolves a static method by name and JNI
	// signature.
	GetStaticMethodID(cls Class, name, signature string) error
}
