package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Output formats for records
const (
	formatText = "text"
	formatJSON = "json"
)

// readFlags are the flags shared by every command that reads records.
type readFlags struct {
	channel   string
	direction string
	query     string
	limit     int
	format    string
}

func (f *readFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.channel, "channel", "", "Logical channel name, e.g. Security (required)")
	cmd.Flags().StringVar(&f.direction, "direction", "", "forward (oldest first) or reverse (newest first, the server default)")
	cmd.Flags().StringVar(&f.query, "query", "", "Filter expression, e.g. 'eventId == 4625 && level <= 3'")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "Maximum number of records (0 for no limit)")
	cmd.Flags().StringVar(&f.format, "format", formatText, "Output format: text or json (one record per line)")

	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(fmt.Sprintf("Failed to mark channel flag as required: %v", err))
	}
}

// options parses the direction and checks the output format.
// An empty direction is left for the server to default.
func (f *readFlags) options() (winlog.ReadOptions, error) {
	if f.format != formatText && f.format != formatJSON {
		return winlog.ReadOptions{}, fmt.Errorf("invalid format %q (must be text or json)", f.format)
	}
	if f.limit < 0 {
		return winlog.ReadOptions{}, fmt.Errorf("limit cannot be negative, got %d", f.limit)
	}

	opts := winlog.ReadOptions{Query: f.query}
	if f.direction != "" {
		d, err := winlog.ParseDirection(f.direction)
		if err != nil {
			return winlog.ReadOptions{}, err
		}
		opts.Direction = d
	}
	return opts, opts.Validate()
}

func printRecord(w io.Writer, rec *winlog.EventRecord, n int, format string) {
	if format == formatJSON {
		data, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(w, "%s\n", data)
		return
	}

	fmt.Fprintf(w, "Record #%d:\n", n)
	fmt.Fprintf(w, "   RecordID: %d\n", rec.EventRecordID)
	fmt.Fprintf(w, "   EventID: %d\n", rec.EventID)
	fmt.Fprintf(w, "   Provider: %s\n", rec.ProviderName)
	if rec.Channel != "" {
		fmt.Fprintf(w, "   Channel: %s\n", rec.Channel)
	}
	fmt.Fprintf(w, "   Computer: %s\n", rec.Computer)
	fmt.Fprintf(w, "   Time: %s\n", rec.TimeCreated.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(w, "   Level: %d  Task: %d  Opcode: %d  Keywords: 0x%016x\n", rec.Level, rec.Task, rec.Opcode, rec.Keywords)
	if rec.EventName != "" {
		fmt.Fprintf(w, "   Name: %s\n", rec.EventName)
	}
	if rec.ProcessID != nil {
		fmt.Fprintf(w, "   Process: %d", *rec.ProcessID)
		if rec.ThreadID != nil {
			fmt.Fprintf(w, "  Thread: %d", *rec.ThreadID)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// status prints progress lines, which json output keeps off stdout
func status(cmd *cobra.Command, format, msg string, args ...any) {
	w := cmd.OutOrStdout()
	if format == formatJSON {
		w = cmd.ErrOrStderr()
	}
	fmt.Fprintf(w, msg, args...)
}
