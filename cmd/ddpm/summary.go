package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"

	"github.com/sugarme/ddpm/ddpm"
)

func SummaryHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	stages, err := ddpm.Plan(cfg)
	if err != nil {
		return err
	}

	var data [][]string
	for _, row := range ddpm.Summarize(stages) {
		data = append(data, row.Strings())
	}

	out := cmd.OutOrStdout()
	table := tablewriter.NewWriter(out)
	table.SetHeader(ddpm.RowHeader)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	counts := ddpm.KindCounts(stages)
	fmt.Fprintf(out, "\n%d modules: %d residual, %d attention, %d downsample, %d upsample\n",
		len(stages), counts[ddpm.KindResidual], counts[ddpm.KindAttention],
		counts[ddpm.KindDownsample], counts[ddpm.KindUpsample])

	if params, _ := cmd.Flags().GetBool("params"); params {
		vs, _, err := buildModel(cfg, gotch.CPU)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d parameters\n", countParams(vs))
	}

	if path, _ := cmd.Flags().GetString("csv"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := ddpm.WriteCSV(f, stages); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	return nil
}
