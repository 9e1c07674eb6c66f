package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/pure-neuron/internal/metrics"
	"github.com/amikos-tech/pure-neuron/internal/runner"
	"github.com/amikos-tech/pure-neuron/nrt"
)

func newBenchCmd(a *app) *cobra.Command {
	var (
		bc         runner.BenchConfig
		startCore  int32
		coreCount  int32
		metricsOut string
	)
	cmd := &cobra.Command{
		Use:   "bench NEFF",
		Short: "Execute a program repeatedly with zeroed inputs and report latency",
		Args:  fileArg,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			rec := metrics.NewRecorder()
			cfg := runner.Config{
				Logger:   a.logger,
				Recorder: rec,
				Options:  a.loadOptions(nrt.WithCoreRange(startCore, coreCount)),
			}
			model, err := runner.LoadModel(cfg, args[0])
			if err != nil {
				return err
			}
			defer func() {
				if err := model.Destroy(); err != nil {
					a.logger.Warn("failed to destroy model", zap.Error(err))
				}
			}()

			result, err := runner.Bench(cmd.Context(), cfg, model, bc)
			if err != nil {
				return err
			}
			renderBenchTable(a, result)

			if metricsOut != "" {
				if err := rec.WriteTextfile(metricsOut); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			return nil
		}),
	}
	flags := cmd.Flags()
	flags.IntVarP(&bc.Iterations, "iterations", "n", 100, "number of timed executions")
	flags.IntVarP(&bc.Concurrency, "concurrency", "c", 1, "concurrent workers, each with its own tensors")
	flags.IntVar(&bc.Warmup, "warmup", 1, "untimed executions per worker")
	flags.Int32Var(&startCore, "start-core", -1, "first NeuronCore, -1 lets the runtime choose")
	flags.Int32Var(&coreCount, "core-count", -1, "number of NeuronCores, -1 lets the runtime choose")
	flags.StringVar(&metricsOut, "metrics-out", "", "write Prometheus metrics to this file")
	return cmd
}

func renderBenchTable(a *app, r runner.BenchResult) {
	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{"ITERATIONS", "WORKERS", "ELAPSED", "MEAN", "P50", "P95", "P99", "MAX", "EXEC/S"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.Append([]string{
		strconv.Itoa(r.Iterations),
		strconv.Itoa(r.Concurrency),
		r.Elapsed.String(),
		r.Mean.String(),
		r.P50.String(),
		r.P95.String(),
		r.P99.String(),
		r.Max.String(),
		strconv.FormatFloat(r.Throughput(), 'f', 1, 64),
	})
	table.Render()
}
