// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// ChunkSize is the size of the sliding buffer the scanner reads mappings
// through (§4.3).
const ChunkSize = 1 << 20 // 1 MiB

// Source is the remote-memory reader contract (C1). Never aborts the
// process on a read fault: every failure is converted to a typed *Error. A
// short read (0 < n < len(buf)) is not itself an error.
type Source interface {
	// ReadAt reads up to len(buf) bytes starting at addr, returning the
	// number of bytes actually read.
	ReadAt(addr uintptr, buf []byte) (int, error)
}

// ProcessSource reads from the current process's own address space through
// the kernel's cross-process vector read primitive, targeting our own pid.
// Safe to call at any alignment and for any length up to the kernel's
// per-call cap.
type ProcessSource struct {
	pid int
}

// NewProcessSource returns a Source bound to the calling process.
func NewProcessSource() *ProcessSource {
	return &ProcessSource{pid: os.Getpid()}
}

// ReadAt implements Source.
func (s *ProcessSource) ReadAt(addr uintptr, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}

	n, err := unix.ProcessVMReadv(s.pid, local, remote, 0)
	if err != nil {
		kind := KindOther
		if err == unix.EFAULT || err == unix.ESRCH || err == unix.EIO {
			kind = KindBadAddress
		}
		return 0, &Error{Kind: kind, Addr: addr, Err: err}
	}
	if n == 0 {
		return 0, &Error{Kind: KindBadAddress, Addr: addr, Err: unix.EFAULT}
	}
	return n, nil
}

// FileSource replays a previously captured memory snapshot through the same
// scanner and parser code paths that read a live process, by mmap'ing the
// snapshot file and answering ReadAt as though the file's bytes had been
// resident starting at Base. This is the offline analogue of the teacher's
// own use of mmap-go to map a PE file read-only (file.go's New): there we
// mapped an executable image once and sliced it; here we map a captured
// region and slice it by virtual address instead of file offset.
type FileSource struct {
	base uintptr
	data mmap.MMap
	f    *os.File
}

// NewFileSource mmaps path read-only and treats its first byte as though it
// were resident at virtual address base.
func NewFileSource(path string, base uintptr) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{base: base, data: data, f: f}, nil
}

// ReadAt implements Source.
func (s *FileSource) ReadAt(addr uintptr, buf []byte) (int, error) {
	if addr < s.base || addr >= s.base+uintptr(len(s.data)) {
		return 0, &Error{Kind: KindBadAddress, Addr: addr, Err: ErrNotMapped}
	}
	off := addr - s.base
	n := copy(buf, s.data[off:])
	if n == 0 {
		return 0, &Error{Kind: KindBadAddress, Addr: addr, Err: ErrNotMapped}
	}
	return n, nil
}

// Close unmaps the snapshot and closes the backing file.
func (s *FileSource) Close() error {
	if s.data != nil {
		_ = s.data.Unmap()
	}
	return s.f.Close()
}

// Len reports the size of the mapped snapshot in bytes.
func (s *FileSource) Len() int { return len(s.data) }

// readExact reads length bytes at addr from src into a freshly allocated
// buffer, failing if fewer than length bytes come back. Used anywhere the
// parser needs a complete fixed-size record rather than a best-effort scan
// chunk.
func readExact(src Source, addr uintptr, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	n, err := src.ReadAt(addr, buf)
	if err != nil {
		return nil, err
	}
	if n != length {
		return nil, &Error{Kind: KindShort, Addr: addr, Err: ErrOutsideBoundary}
	}
	return buf, nil
}
