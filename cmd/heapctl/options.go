package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/internal/options"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

func init() {
	rootCmd.AddCommand(newOptionsCmd())
}

func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options [name...]",
		Short: "Show effective allocator options",
		Long: `The options command prints every allocator option after applying
HEAPKIT_<NAME> environment overrides.

Example:
  HEAPKIT_RESERVE_OS_MEMORY=64m heapctl options
  heapctl options show_stats verbose --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptions(args)
		},
	}
}

func runOptions(args []string) error {
	store := heapkit.Default().Options
	store.Init()
	setts := store.Settings()

	names := args
	if len(names) == 0 {
		for name := range options.Defaultsettings() {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		v, ok := setts[name]
		if !ok {
			return fmt.Errorf("unknown option %q", name)
		}
		out[name] = v
	}

	if jsonOut {
		return printJSON(out)
	}
	for _, name := range names {
		printInfo("%-26s %v\n", name, out[name])
	}
	return nil
}
