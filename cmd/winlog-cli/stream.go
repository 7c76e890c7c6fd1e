package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/winlog-go/internal/grpcapi"
	"github.com/rmacdonaldsmith/winlog-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// recordStream is satisfied by the SSE, gRPC and local record streams
type recordStream interface {
	Next() (*winlog.EventRecord, error)
	Close() error
}

func newStreamCommand() *cobra.Command {
	var (
		flags    readFlags
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream records from a channel as they are read",
		Long: `Stream records from a channel over Server-Sent Events, or over gRPC when
--grpc-addr is given. Records are pulled one at a time, so a slow terminal
slows the server's read rather than piling up records.
Press Ctrl+C to stop streaming; the server closes the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, &flags, grpcAddr)
		},
	}
	flags.register(cmd, 0)
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "Stream over gRPC from this address (e.g. localhost:9090) instead of SSE")

	return cmd
}

func runStream(cmd *cobra.Command, flags *readFlags, grpcAddr string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	opts, err := flags.options()
	if err != nil {
		return err
	}

	// Handle Ctrl+C gracefully
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := "SSE from " + serverURL
	if grpcAddr != "" {
		transport = "gRPC from " + grpcAddr
	}
	status(cmd, flags.format, "Streaming %s over %s (direction: %s)...\n", flags.channel, transport, directionLabel(opts))

	var stream recordStream
	if grpcAddr != "" {
		gc, err := grpcapi.NewClient(grpcAddr, client.GetToken())
		if err != nil {
			return err
		}
		defer gc.Close()

		stream, err = gc.Read(ctx, grpcapi.ReadRequest{Channel: flags.channel, Options: opts, Limit: flags.limit})
		if err != nil {
			return fmt.Errorf("failed to start streaming: %w", err)
		}
	} else {
		stream, err = client.Stream(ctx, flags.channel, httpclient.ReadRequest{
			Direction: opts.Direction,
			Query:     opts.Query,
			Limit:     flags.limit,
		})
		if err != nil {
			return fmt.Errorf("failed to start streaming: %w", err)
		}
	}
	defer stream.Close()

	count, err := drain(ctx, cmd.OutOrStdout(), stream, flags.format)
	switch {
	case ctx.Err() != nil:
		status(cmd, flags.format, "\nStream stopped. Received %d record(s).\n", count)
		return nil
	case err != nil:
		return fmt.Errorf("stream failed after %d record(s): %w", count, err)
	}
	status(cmd, flags.format, "Stream finished. Received %d record(s).\n", count)
	return nil
}

// drain prints records until the stream ends. A clean end returns a nil error.
func drain(ctx context.Context, w io.Writer, stream recordStream, format string) (int, error) {
	count := 0
	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			return count, err
		}
		count++
		printRecord(w, rec, count, format)
	}
}
