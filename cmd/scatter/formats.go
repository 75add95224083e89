package main

import (
	"fmt"

	"github.com/fogfactory/scatter"
	"github.com/fogfactory/scatter/internal/transform"
	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List record formats, transforms and failure policies",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Record formats:")
		for _, name := range scatter.FormatNames() {
			fmt.Fprintf(out, "  %s\n", name)
		}
		fmt.Fprintln(out, "\nTransforms:")
		for _, name := range transform.Names() {
			fmt.Fprintf(out, "  %-10s %s\n", name, transform.Describe(name))
		}
		fmt.Fprintln(out, "\nFailure policies:")
		for _, policy := range []scatter.FailurePolicy{scatter.AbortGroup, scatter.SkipPartial} {
			fmt.Fprintf(out, "  %s\n", policy)
		}
	},
}
