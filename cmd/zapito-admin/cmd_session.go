package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ashureev/zapito/internal/janitor"
	"github.com/ashureev/zapito/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset customer sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <phone>",
	Short: "Show the stored session for a customer",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <phone>",
	Short: "Forget a customer's session so the next message starts over",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionReset,
}

var (
	cleanupOutbound time.Duration
	cleanupIdle     time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one retention sweep over the outbound log and idle sessions",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionResetCmd)

	cleanupCmd.Flags().DurationVar(&cleanupOutbound, "outbound", 30*24*time.Hour, "Delete outbound log rows older than this (0 disables)")
	cleanupCmd.Flags().DurationVar(&cleanupIdle, "idle", 0, "Delete sessions idle for longer than this (0 disables)")
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := repo.GetSession(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if s == nil {
		fmt.Fprintf(out, "No session for %s\n", args[0])
		return nil
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "%s\n", s.UserID)
	fmt.Fprintf(out, "  state:   %s\n", s.State)
	if s.Staff != nil {
		fmt.Fprintf(out, "  staff:   %s #%d\n", s.Staff.Kind, s.Staff.ID)
	}
	fmt.Fprintf(out, "  version: %d\n", s.Version)
	fmt.Fprintf(out, "  updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tracker := session.NewTracker(repo, logger)
	if err := tracker.ClearState(ctx, args[0]); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Session for %s reset\n", args[0])
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	janitor.Sweep(ctx, repo, janitor.Config{
		OutboundRetention: cleanupOutbound,
		SessionIdleTTL:    cleanupIdle,
	}, logger)

	fmt.Fprintln(cmd.OutOrStdout(), "Retention sweep complete")
	return nil
}
