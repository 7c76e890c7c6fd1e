package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring a winlogd server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List open read sessions",
		Long:  "List every read session currently open on the server, across all clients",
		RunE:  runAdminSessions,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show session statistics",
		Long:  "Display session and record counters since the server started",
		RunE:  runAdminStats,
	})

	return cmd
}

func runAdminSessions(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminListSessions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(response.Sessions) == 0 {
		fmt.Fprintln(out, "No open sessions")
		return nil
	}

	fmt.Fprintf(out, "Found %d open session(s):\n\n", len(response.Sessions))
	for i, s := range response.Sessions {
		fmt.Fprintf(out, "%d. Session ID: %s\n", i+1, s.ID)
		fmt.Fprintf(out, "   Client ID: %s\n", s.ClientID)
		fmt.Fprintf(out, "   Channel: %s (%s)\n", s.Channel, s.NativeID)
		fmt.Fprintf(out, "   Direction: %s\n", s.Direction)
		if s.Query != "" {
			fmt.Fprintf(out, "   Query: %s\n", s.Query)
		}
		fmt.Fprintf(out, "   State: %s\n", s.State)
		fmt.Fprintf(out, "   Delivered: %d\n", s.Delivered)
		fmt.Fprintf(out, "   Created At: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
		if i < len(response.Sessions)-1 {
			fmt.Fprintln(out)
		}
	}

	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "winlogd Statistics:\n\n")
	fmt.Fprintf(out, "Uptime: %s\n", time.Duration(response.UptimeSeconds)*time.Second)
	fmt.Fprintf(out, "Sessions Opened: %d\n", response.SessionsOpened)
	fmt.Fprintf(out, "Sessions Active: %d\n", response.SessionsActive)
	fmt.Fprintf(out, "Sessions Exhausted: %d\n", response.SessionsExhausted)
	fmt.Fprintf(out, "Sessions Failed: %d\n", response.SessionsFailed)
	fmt.Fprintf(out, "Sessions Cancelled: %d\n", response.SessionsCancelled)
	fmt.Fprintf(out, "Sessions Rejected: %d\n", response.SessionsRejected)
	fmt.Fprintf(out, "Records Delivered: %d\n", response.RecordsDelivered)

	return nil
}
