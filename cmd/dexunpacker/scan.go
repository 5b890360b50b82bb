// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dexunpacker "github.com/zygisk-tools/dexunpacker"
)

func newScanCmd() *cobra.Command {
	var deepSearch bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan this process's own address space for DEX candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			mappings, err := dexunpacker.SnapshotMappings()
			if err != nil {
				return fmt.Errorf("snapshot mappings: %w", err)
			}
			maps := dexunpacker.NewMapIndex(mappings)
			src := dexunpacker.NewProcessSource()
			scanner := dexunpacker.NewScanner(src, maps)

			candidates := scanner.Scan(deepSearch)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(candidates)
		},
	}

	cmd.Flags().BoolVar(&deepSearch, "deep-search", false, "also run the pointer-graph detection strategy")
	return cmd
}
