package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newChannelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List readable channels",
		Long:  "List the logical channel names the server accepts, with their native log identifiers",
		RunE:  runChannels,
	}

	return cmd
}

func runChannels(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.ListChannels(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Channels) == 0 {
		fmt.Fprintln(out, "No channels available")
		return nil
	}

	fmt.Fprintf(out, "Found %d channel(s):\n\n", len(resp.Channels))
	for _, ch := range resp.Channels {
		custom := ""
		if ch.Custom {
			custom = " (custom)"
		}
		fmt.Fprintf(out, "  %-24s %s%s\n", ch.Name, ch.NativeID, custom)
	}
	return nil
}
