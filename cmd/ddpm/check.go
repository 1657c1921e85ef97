package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
)

// CheckHandler builds the model and pushes random batches through it,
// reporting the output shape and time of every pass.
func CheckHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dev := device(cmd)
	vs, net, err := buildModel(cfg, dev)
	if err != nil {
		return err
	}
	slog.Info("model ready", "modules", net.Len(), "parameters", countParams(vs), "device", dev)

	batch, _ := cmd.Flags().GetInt64("batch")
	iters, _ := cmd.Flags().GetInt("iters")
	size := cfg.Data.ImageSize

	image := ts.MustRand([]int64{batch, cfg.InChannels(), size, size}, gotch.Float, dev)
	defer image.MustDrop()
	labels := ts.MustRandint(int64(cfg.Model.NumScales), []int64{batch}, gotch.Int64, dev)
	defer labels.MustDrop()

	out := cmd.OutOrStdout()
	for i := 0; i < iters; i++ {
		start := time.Now()
		var (
			shape []int64
			ferr  error
		)
		ts.NoGrad(func() {
			score, err := net.Forward(image, labels, false)
			if err != nil {
				ferr = err
				return
			}
			shape = score.MustSize()
			score.MustDrop()
		})
		if ferr != nil {
			return ferr
		}
		fmt.Fprintf(out, "%02d - output %v in %v\n", i, shape, time.Since(start).Round(time.Microsecond))
	}

	return nil
}
