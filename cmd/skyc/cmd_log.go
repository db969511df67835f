package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/store"
)

func addLog(root *cobra.Command, a *app) {
	var f store.EditFilter
	var outcome string
	var since time.Duration
	var allServers bool
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the journal of writes sent to the server.",
		Example: `
skyc log
skyc log --outcome rejected --since 24h
skyc log stats
skyc log prune --older-than 720h
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openStore()
			if err != nil {
				return err
			}
			f.Outcome = model.Outcome(outcome)
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			if !allServers {
				f.Server = a.client.Server()
			}
			edits, err := j.ListEdits(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}
			if a.jsonOut {
				if edits == nil {
					edits = []model.EditRecord{}
				}
				printJSON(a.out, map[string]interface{}{"edits": edits, "count": len(edits)})
				return nil
			}
			if len(edits) == 0 {
				fmt.Fprintln(a.out, "no edits")
				return nil
			}
			for _, e := range edits {
				printEdit(a, e)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max edits to show")
	cmd.Flags().StringVar(&f.Endpoint, "endpoint", "", "filter by endpoint, e.g. /api/main/time")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: ok, rejected, transport, aborted")
	cmd.Flags().DurationVar(&since, "since", 0, "only edits sent within this duration")
	cmd.Flags().BoolVar(&allServers, "all-servers", false, "include edits sent to other servers")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count journal entries per outcome.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openStore()
			if err != nil {
				return err
			}
			counts, err := j.CountEdits(cmd.Context())
			if err != nil {
				return fmt.Errorf("log stats: %w", err)
			}
			if a.jsonOut {
				printJSON(a.out, counts)
				return nil
			}
			outcomes := make([]string, 0, len(counts))
			for o := range counts {
				outcomes = append(outcomes, string(o))
			}
			sort.Strings(outcomes)
			for _, o := range outcomes {
				fmt.Fprintf(a.out, "%-10s %s\n", outcomeColor(model.Outcome(o)).Sprint(o), humanize.Comma(counts[model.Outcome(o)]))
			}
			return nil
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old journal entries.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := j.PruneEdits(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("log prune: %w", err)
			}
			if a.jsonOut {
				printJSON(a.out, map[string]int64{"pruned": n})
				return nil
			}
			fmt.Fprintf(a.out, "pruned %s %s\n", humanize.Comma(n), plural(n, "edit", "edits"))
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete edits sent before this long ago")

	cmd.AddCommand(stats, prune)
	root.AddCommand(cmd)
}

func printEdit(a *app, e model.EditRecord) {
	line := fmt.Sprintf("%s %-9s %-32s %s", e.SentAt.Local().Format("2006-01-02 15:04:05.000"),
		outcomeColor(e.Outcome).Sprint(e.Outcome), e.Endpoint, e.Payload)
	if e.Error != "" {
		line += "  " + color.New(color.Faint).Sprint(e.Error)
	}
	fmt.Fprintln(a.out, line)
}

func outcomeColor(o model.Outcome) *color.Color {
	switch o {
	case model.OutcomeOK:
		return color.New(color.FgGreen)
	case model.OutcomeRejected:
		return color.New(color.FgYellow)
	case model.OutcomeTransport:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
