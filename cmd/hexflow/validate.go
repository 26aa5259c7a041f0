package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/hexflow/internal/definition"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Parse the workflow definition and report problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.v.GetString("workflow_dir")
			if len(args) == 1 {
				dir = args[0]
			}

			g, path, err := definition.Load(dir)
			if err != nil {
				return err
			}

			entry := "none"
			if ep, ok := g.EntryPoint(); ok {
				entry = ep.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: workflow %q is valid (%d apps, %d transitions, %d mappings, entry point: %s)\n",
				path, g.Name, len(g.Apps), len(g.Flow), len(g.DataMappings), entry)
			return nil
		},
	}
}
