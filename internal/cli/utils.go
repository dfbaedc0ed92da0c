// Package cli provides output helpers for the twinscope command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperjump/twinscope/internal/models"
	"github.com/hyperjump/twinscope/internal/sampler"
	"github.com/hyperjump/twinscope/internal/trainer"
	"github.com/hyperjump/twinscope/pkg/utils"
)

// OutputFormat selects text or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: text, json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteReport writes a training report: per-epoch history and held-out accuracy.
func WriteReport(w io.Writer, report *trainer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EPOCH\tLOSS\tACC\tVAL_LOSS\tVAL_ACC\tLR\tCHECKPOINT")
	for _, e := range report.Epochs {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.2g\t%s\n",
			e.Epoch, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.LearningRate, e.Checkpoint)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if report.FinalModel != "" {
		fmt.Fprintf(w, "\nFinal model: %s\n", report.FinalModel)
	}
	fmt.Fprintf(w, "Held-out accuracy: %.2f%% (%d pairs)\n", report.EvalAccuracy*100, report.EvalPairs)
	return nil
}

// WriteAccuracy writes a standalone evaluation result.
func WriteAccuracy(w io.Writer, model string, accuracy float64, pairs int, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"model": model, "accuracy": accuracy, "pairs": pairs})
	}
	_, err := fmt.Fprintf(w, "%s: accuracy %.2f%% over %d pairs\n", model, accuracy*100, pairs)
	return err
}

// WritePairs writes a sampled pair dataset with its statistics.
func WritePairs(w io.Writer, ds *models.PairDataset, stats sampler.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, struct {
			Stats sampler.Stats `json:"stats"`
			*models.PairDataset
		}{stats, ds})
	}
	fmt.Fprintf(w, "%d entities, %d positive sources, %d skipped, %d exhausted, %d units\n\n",
		stats.Entities, stats.PositiveSources, stats.Skipped, stats.Exhausted, stats.Units)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLABEL\tLEFT\tRIGHT")
	for i, p := range ds.Pairs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", i, ds.Labels[i], p.A, p.B)
	}
	return tw.Flush()
}

// WriteRuns writes recorded training runs.
func WriteRuns(w io.Writer, runs []*models.Run, format OutputFormat) error {
	if format == OutputJSON {
		if runs == nil {
			runs = []*models.Run{}
		}
		return WriteJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tTRAIN\tEVAL\tACCURACY\tERROR")
	for _, r := range runs {
		acc := "-"
		if r.EvalAccuracy != nil {
			acc = fmt.Sprintf("%.2f%%", *r.EvalAccuracy*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04"), r.TrainPairs, r.EvalPairs, acc, utils.Truncate(r.Error, 40))
	}
	return tw.Flush()
}
