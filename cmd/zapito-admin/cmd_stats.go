package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counters",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stats, err := repo.ListStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(stats) == 0 {
		fmt.Fprintln(out, "No counters recorded yet")
		return nil
	}

	var total int64
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tCOUNT")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\n", s.Key, s.Count)
		total += s.Count
	}
	_ = w.Flush()

	color.New(color.FgHiBlack).Fprintf(out, "%d counters, %d events\n", len(stats), total)
	return nil
}
