// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command dexunpacker is a standalone harness around the dex package, the
// direct analogue of the teacher's cmd/ PE dumper: it exercises the same
// library code the Zygisk host loads in-process, against either the
// current process's own memory or a captured memory-snapshot file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "dexunpacker",
		Short: "Locate, parse and dump DEX images resident in process memory",
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dexunpacker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
