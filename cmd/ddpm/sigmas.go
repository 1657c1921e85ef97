package main

import (
	"fmt"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sugarme/ddpm/schedule"
)

func SigmasHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sigmas, err := schedule.FromConfig(cfg)
	if err != nil {
		return err
	}

	step, _ := cmd.Flags().GetInt("step")
	if step < 1 {
		step = 1
	}

	var data [][]string
	for i := 0; i < len(sigmas); i += step {
		data = append(data, []string{fmt.Sprint(i), fmt.Sprintf("%.6g", sigmas[i])})
	}
	if last := len(sigmas) - 1; last%step != 0 {
		data = append(data, []string{fmt.Sprint(last), fmt.Sprintf("%.6g", sigmas[last])})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"LABEL", "SIGMA"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	if path, _ := cmd.Flags().GetString("plot"); path != "" {
		if err := plotSigmas(sigmas, path); err != nil {
			return err
		}
		slog.Info("saved sigma plot", "path", path)
	}

	return nil
}

// plotSigmas draws sigma against label on a log scale.
func plotSigmas(sigmas []float64, path string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Noise schedule"
	p.X.Label.Text = "label"
	p.Y.Label.Text = "sigma"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{}

	pts := make(plotter.XYs, len(sigmas))
	for i, s := range sigmas {
		pts[i].X = float64(i)
		pts[i].Y = s
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
