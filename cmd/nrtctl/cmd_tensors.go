package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/amikos-tech/pure-neuron/nrt"
)

func newTensorsCmd(a *app) *cobra.Command {
	var startCore, coreCount int32
	cmd := &cobra.Command{
		Use:   "tensors NEFF",
		Short: "List the tensors a compiled program declares",
		Args:  fileArg,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			model, err := nrt.LoadModelFromFile(args[0], a.loadOptions(nrt.WithCoreRange(startCore, coreCount))...)
			if err != nil {
				return err
			}
			renderTensorTable(a.out, model.TensorInfo())
			return model.Destroy()
		}),
	}
	cmd.Flags().Int32Var(&startCore, "start-core", -1, "first NeuronCore, -1 lets the runtime choose")
	cmd.Flags().Int32Var(&coreCount, "core-count", -1, "number of NeuronCores, -1 lets the runtime choose")
	return cmd
}

func renderTensorTable(w io.Writer, infos []nrt.TensorInfo) {
	data := make([][]string, 0, len(infos))
	for _, info := range infos {
		data = append(data, []string{
			info.Name,
			info.Usage.String(),
			info.DType.String(),
			"[" + nrt.FormatShape(info.Shape) + "]",
			strconv.FormatUint(info.Size, 10),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "USAGE", "DTYPE", "SHAPE", "BYTES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	fmt.Fprintf(w, "%d tensors\n", len(infos))
}
