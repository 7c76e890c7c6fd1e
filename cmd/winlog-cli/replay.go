package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/winlog-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

func newReplayCommand() *cobra.Command {
	var flags readFlags

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Fetch one batch of records from a channel",
		Long: `Fetch one bounded batch of records from a channel and exit.
Unlike 'stream', the server reads the whole batch before answering.
The server caps the batch size (1000 by default).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, &flags)
		},
	}
	flags.register(cmd, 100)

	return cmd
}

func runReplay(cmd *cobra.Command, flags *readFlags) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	opts, err := flags.options()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	status(cmd, flags.format, "Reading %s (direction: %s, limit: %d)...\n", flags.channel, directionLabel(opts), flags.limit)

	response, err := client.ReadEvents(ctx, flags.channel, httpclient.ReadRequest{
		Direction: opts.Direction,
		Query:     opts.Query,
		Limit:     flags.limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, rec := range response.Events {
		printRecord(out, rec, i+1, flags.format)
	}

	more := "more records may follow"
	if response.Exhausted {
		more = "channel exhausted"
	}
	status(cmd, flags.format, "Read %d record(s) from %s (%s)\n", response.Count, response.Channel, more)
	return nil
}

func directionLabel(opts winlog.ReadOptions) string {
	if opts.Direction == "" {
		return "server default"
	}
	return string(opts.Direction)
}
