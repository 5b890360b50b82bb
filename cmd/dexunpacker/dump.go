// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	dexunpacker "github.com/zygisk-tools/dexunpacker"
)

func newDumpCmd() *cobra.Command {
	var (
		snapshotPath string
		baseAddrHex  string
		outDir       string
		deepSearch   bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Replay a captured memory snapshot and dump every DEX found in it",
		Long: "dump treats snapshot as though its bytes were resident starting at\n" +
			"--base, mirroring how the live scanner and parser read a real process's\n" +
			"address space, then writes every recovered image to --out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := strconv.ParseUint(baseAddrHex, 16, 64)
			if err != nil {
				return fmt.Errorf("parse --base: %w", err)
			}

			src, err := dexunpacker.NewFileSource(snapshotPath, uintptr(base))
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer src.Close()

			maps := dexunpacker.NewMapIndex([]dexunpacker.Mapping{{
				Start:    uintptr(base),
				End:      uintptr(base) + uintptr(src.Len()),
				Readable: true,
			}})
			scanner := dexunpacker.NewScanner(src, maps)
			candidates := scanner.Scan(deepSearch)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			for i, c := range candidates {
				parsed, err := dexunpacker.ParseDexAt(src, c.Addr)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skip candidate at 0x%x: %v\n", c.Addr, err)
					continue
				}

				buf := make([]byte, c.Size)
				n, err := src.ReadAt(c.Addr, buf)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skip candidate at 0x%x: %v\n", c.Addr, err)
					continue
				}

				name := fmt.Sprintf("dex_%d_%x.dex", i, c.Addr)
				path := filepath.Join(outDir, name)
				if err := os.WriteFile(path, buf[:n], 0o644); err != nil {
					return err
				}
				fmt.Printf("%s: %d methods, %d with code items\n", path, len(parsed.Methods), countWithCode(parsed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "path to a captured memory-snapshot file")
	cmd.Flags().StringVar(&baseAddrHex, "base", "0", "hex virtual address the snapshot's first byte was captured at")
	cmd.Flags().StringVar(&outDir, "out", "./dumps", "directory to write recovered DEX images to")
	cmd.Flags().BoolVar(&deepSearch, "deep-search", false, "also run the pointer-graph detection strategy")
	cmd.MarkFlagRequired("snapshot")
	return cmd
}

func countWithCode(d *dexunpacker.ParsedDex) int {
	n := 0
	for _, m := range d.Methods {
		if m.CodeItem != nil {
			n++
		}
	}
	return n
}
