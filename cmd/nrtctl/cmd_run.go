package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/pure-neuron/internal/manifest"
	"github.com/amikos-tech/pure-neuron/internal/runner"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		printOutputs bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "run MANIFEST",
		Short: "Execute a program once with the inputs named in a manifest (.yaml, .json or .toml)",
		Args:  fileArg,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}

			outputs, err := runner.Run(runner.Config{Logger: a.logger, Options: a.loadOptions()}, m)
			if err != nil {
				return err
			}
			if !printOutputs && !m.Print {
				return nil
			}
			for _, out := range outputs {
				line, err := out.Summary(limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&printOutputs, "print", false, "print every output (also enabled by print: true in the manifest)")
	cmd.Flags().IntVar(&limit, "limit", 16, "maximum values printed per output, 0 for all")
	return cmd
}
