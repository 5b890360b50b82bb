// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads whitelist.txt and force_resolve.txt when either changes
// on disk, for a long-lived host process that keeps the adapter attached
// across multiple specializations (§9.3, §11 supplement). The original
// implementation only ever re-reads these files once, at
// pre_app_specialize; this is additive tooling layered on top, not a
// change to that default path.
type Watcher struct {
	watcher          *fsnotify.Watcher
	whitelistPath    string
	forceResolvePath string
	onChange         func()
}

// Watch starts watching the directory containing whitelistPath and
// forceResolvePath, invoking onChange whenever either file is written or
// created. Call Close to stop watching.
func Watch(whitelistPath, forceResolvePath string, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(whitelistPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	watcher := &Watcher{
		watcher:          w,
		whitelistPath:    whitelistPath,
		forceResolvePath: forceResolvePath,
		onChange:         onChange,
	}
	go watcher.loop()
	return watcher, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.whitelistPath && event.Name != w.forceResolvePath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.onChange()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
