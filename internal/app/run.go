package app

import (
	"context"
	"fmt"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
)

// Run executes the main application logic based on the provided configuration.
// It loads the dataset, partitions it by reference status and reports
// intrinsic magnitudes of the labelled slice.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	data, err := dataset.Load(a.ec, appConfig.DataPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	length, err := data.Length().Result(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	success, err := data.Success().Result(ctx)
	if err != nil {
		return fmt.Errorf("failed to partition dataset: %w", err)
	}
	failed, err := data.Failed().Result(ctx)
	if err != nil {
		return fmt.Errorf("failed to partition dataset: %w", err)
	}

	fmt.Fprintf(a.outW, "configurations: %d\n", length)
	fmt.Fprintf(a.outW, "labelled:       %d\n", len(success))
	fmt.Fprintf(a.outW, "failed:         %d\n", len(failed))

	if len(success) == 0 {
		a.logger.Warn("No labelled configurations, skipping intrinsic metrics.")
		return nil
	}

	labelled := data.Slice(success...)
	for _, property := range []string{dataset.PropertyEnergy, dataset.PropertyForces} {
		errors := dataset.Errors(labelled, nil, dataset.ErrorOptions{
			Metric:     dataset.MetricRMSE,
			Properties: []string{property},
		})
		rows, err := errors.Result(ctx)
		if err != nil {
			// Datasets without that property are still reportable.
			a.logger.Warn("Intrinsic metric unavailable.", "property", property, "error", err)
			continue
		}
		fmt.Fprintf(a.outW, "intrinsic %s rmse: %.6f (%s)\n", property, mean(rows), unitOf(property))
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

func mean(rows [][]float64) float64 {
	total := 0.0
	for _, row := range rows {
		total += row[0]
	}
	return total / float64(len(rows))
}

func unitOf(property string) string {
	switch property {
	case dataset.PropertyEnergy:
		return "meV/atom"
	case dataset.PropertyForces:
		return "meV/angstrom"
	default:
		return "MPa"
	}
}
