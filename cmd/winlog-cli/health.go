package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the winlogd server",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintf(out, "Server is healthy\n")
	} else {
		fmt.Fprintf(out, "Server is NOT healthy\n")
	}
	fmt.Fprintf(out, "Reader: %t\n", health.ReaderHealthy)
	fmt.Fprintf(out, "Channels: %d\n", health.Channels)
	if health.MaxSessions > 0 {
		fmt.Fprintf(out, "Active Sessions: %d/%d\n", health.ActiveSessions, health.MaxSessions)
	} else {
		fmt.Fprintf(out, "Active Sessions: %d\n", health.ActiveSessions)
	}
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return fmt.Errorf("server unhealthy")
	}
	return nil
}
