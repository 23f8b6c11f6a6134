package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/spf13/cobra"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var machineID string

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List detection results for a machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := ctx.client().ListMachineImages(cmd.Context(), machineID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No results yet")
				return nil
			}
			fmt.Fprintln(out, renderResults(records))
			counts := ingest.StatusCounts(records)
			fmt.Fprintf(out, "%d images: %d detected, %d pending, %d failed\n",
				len(records), counts["detected"], counts["pending"], counts["failed"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "Machine ID")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func renderResults(records []ingest.ResultRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		uploaded := "-"
		if !r.CreatedAt.IsZero() {
			uploaded = humanize.Time(r.CreatedAt)
		}
		rows = append(rows, []string{r.Filename, r.Status, uploaded, r.ID})
	}
	return renderTable(
		[]string{"File", "Status", "Uploaded", "ID"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show detection totals across all machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := ctx.client().Summary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			return nil
		},
	}
}

func renderSummary(s *ingest.Summary) string {
	rows := [][]string{
		{"Images", strconv.Itoa(s.TotalImages)},
		{"Detected", strconv.Itoa(s.Detected)},
		{"Pending", strconv.Itoa(s.Pending)},
		{"Failed", strconv.Itoa(s.Fail)},
		{"Particles", strconv.Itoa(s.TotalParticles)},
	}

	classes := make([]string, 0, len(s.ParticleByClass))
	for class := range s.ParticleByClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		rows = append(rows, []string{"  " + class, strconv.Itoa(s.ParticleByClass[class])})
	}

	return renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}
