// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWhitelist(t *testing.T, dir string, packages ...string) string {
	t.Helper()
	path := filepath.Join(dir, "whitelist.txt")
	var data string
	for _, p := range packages {
		data += p + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestOrchestratorSkipsNonWhitelistedPackage(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := writeWhitelist(t, dir, "com.other.app")

	o, err := New(Config{
		PackageDir:    dir,
		PackageName:   "com.example.app",
		WhitelistPath: whitelistPath,
	})
	require.NoError(t, err)
	defer o.Close()

	assert.False(t, o.isWhitelisted())

	result, err := o.runPass()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Candidates)
	assert.Equal(t, 0, result.Dumped)

	dumpDir := filepath.Join(dir, dumpSubdir)
	_, statErr := os.Stat(dumpDir)
	assert.True(t, os.IsNotExist(statErr), "dump dir must not be created for a gated-out package")
}

func TestOrchestratorScansWhitelistedPackage(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := writeWhitelist(t, dir, "com.example.app", "com.other.app")

	o, err := New(Config{
		PackageDir:    dir,
		PackageName:   "com.example.app",
		WhitelistPath: whitelistPath,
	})
	require.NoError(t, err)
	defer o.Close()

	assert.True(t, o.isWhitelisted())

	_, err = o.runPass()
	require.NoError(t, err)

	dumpDir := filepath.Join(dir, dumpSubdir)
	info, statErr := os.Stat(dumpDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestOrchestratorEmptyWhitelistScansUnconditionally(t *testing.T) {
	dir := t.TempDir()

	o, err := New(Config{
		PackageDir:  dir,
		PackageName: "com.example.app",
	})
	require.NoError(t, err)
	defer o.Close()

	assert.True(t, o.isWhitelisted(), "no whitelist configured must scan unconditionally")
}

func TestOrchestratorWatcherReloadsWhitelistOnChange(t *testing.T) {
	dir := t.TempDir()
	whitelistPath := writeWhitelist(t, dir, "com.other.app")

	o, err := New(Config{
		PackageDir:    dir,
		PackageName:   "com.example.app",
		WhitelistPath: whitelistPath,
	})
	require.NoError(t, err)
	defer o.Close()

	require.False(t, o.isWhitelisted())

	require.NoError(t, os.WriteFile(whitelistPath, []byte("com.example.app\ncom.other.app\n"), 0o600))

	assert.Eventually(t, func() bool {
		return o.isWhitelisted()
	}, 2*time.Second, 10*time.Millisecond, "watcher must pick up the whitelist edit without a restart")
}

func TestOrchestratorForceResolvePresence(t *testing.T) {
	dir := t.TempDir()
	forceResolvePath := filepath.Join(dir, "force_resolve.txt")
	whitelistPath := writeWhitelist(t, dir, "com.example.app")

	o, err := New(Config{
		PackageDir:       dir,
		PackageName:      "com.example.app",
		WhitelistPath:    whitelistPath,
		ForceResolvePath: forceResolvePath,
	})
	require.NoError(t, err)
	defer o.Close()

	assert.False(t, o.isForceResolveOn())

	require.NoError(t, os.WriteFile(forceResolvePath, []byte(""), 0o600))

	assert.Eventually(t, func() bool {
		return o.isForceResolveOn()
	}, 2*time.Second, 10*time.Millisecond, "watcher must pick up the force_resolve marker appearing")
}
