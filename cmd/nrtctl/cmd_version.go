package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/pure-neuron/nrt"
)

func newVersionCmd(a *app) *cobra.Command {
	var require string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the Neuron runtime version and core counts",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			version, err := a.backend.Version()
			if err != nil {
				return err
			}
			total, visible, err := a.backend.CoreCounts()
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "runtime version: %s\n", version)
			if version.Detail != "" {
				fmt.Fprintf(a.out, "detail:          %s\n", version.Detail)
			}
			fmt.Fprintf(a.out, "neuron cores:    %d visible / %d total\n", visible, total)

			if require != "" {
				if err := nrt.CheckVersionConstraint(version, require); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "constraint %q satisfied\n", require)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&require, "require", "", `fail unless the runtime satisfies this semver constraint (e.g. ">= 2.20")`)
	return cmd
}
