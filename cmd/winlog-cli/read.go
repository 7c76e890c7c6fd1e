package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/winlog-go/internal/bridge"
	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

func newReadCommand() *cobra.Command {
	var (
		flags    readFlags
		dir      string
		channels map[string]string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read records from a local export directory",
		Long: `Read a channel from a directory of exported channel files, without a server.
Each channel's export is <dir>/<native id>.jsonl, optionally gzip (.jsonl.gz)
or zstd (.jsonl.zst) compressed, with one JSON record per line.`,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, &flags, dir, channels, logLevel)
		},
	}
	flags.register(cmd, 0)
	cmd.Flags().StringVar(&dir, "dir", "", "Export directory (required)")
	cmd.Flags().StringToStringVar(&channels, "custom-channel", nil, "Extra channel as name=native-id (repeatable)")
	cmd.Flags().StringVar(&logLevel, "log-level", "error", "Log level for session diagnostics on stderr")

	if err := cmd.MarkFlagRequired("dir"); err != nil {
		panic(fmt.Sprintf("Failed to mark dir flag as required: %v", err))
	}

	return cmd
}

func runRead(cmd *cobra.Command, flags *readFlags, dir string, custom map[string]string, logLevel string) error {
	opts, err := flags.options()
	if err != nil {
		return err
	}

	logger, err := log.New(log.Config{Level: logLevel, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	table, err := winlog.NewChannelTable(custom)
	if err != nil {
		return err
	}
	reader, err := nativereader.NewFile(dir)
	if err != nil {
		return err
	}
	b, err := bridge.New(reader, bridge.Config{Channels: table, Logger: logger})
	if err != nil {
		return err
	}

	session, err := b.Open(flags.channel, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream := &limitedSession{ctx: ctx, session: session, limit: flags.limit}
	defer stream.Close()

	count, err := drain(ctx, cmd.OutOrStdout(), stream, flags.format)
	switch {
	case ctx.Err() != nil:
		status(cmd, flags.format, "\nRead stopped. Read %d record(s).\n", count)
		return nil
	case err != nil:
		return fmt.Errorf("read failed after %d record(s): %w", count, err)
	}
	status(cmd, flags.format, "Read %d record(s) from %s (%s)\n", count, flags.channel, session.NativeID())
	return nil
}

// limitedSession adapts a bridge session to recordStream, ending it after limit records.
type limitedSession struct {
	ctx     context.Context
	session *bridge.Session
	limit   int
	read    int
}

func (l *limitedSession) Next() (*winlog.EventRecord, error) {
	if l.limit > 0 && l.read >= l.limit {
		return nil, io.EOF
	}
	rec, err := l.session.Next(l.ctx)
	if err != nil {
		return nil, err
	}
	l.read++
	return rec, nil
}

func (l *limitedSession) Close() error {
	return l.session.Close()
}
