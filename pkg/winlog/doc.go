// Package winlog defines the public model and contracts for reading operating
// system event-log channels as a pull-based stream.
//
// This package defines the core abstractions:
//   - EventRecord: one fully decoded event-log entry
//   - ChannelTable: the immutable mapping from logical channel names to native log identifiers
//   - ReadOptions: traversal direction and the opaque query passed to the reader
//   - NativeReader: the callback-driven reader that performs the OS-level query
//   - Stream: the single-pass, cancellable sequence handed to consumers
//
// The interfaces use Go idioms:
//   - context.Context on the blocking pull (Stream.Next)
//   - io.EOF to mark a cleanly exhausted stream
//   - io.Closer semantics for early exit (Stream.Close is idempotent)
//   - iter.Seq2 for range-over-func consumption with guaranteed cleanup
//
// Example usage:
//
//	stream, err := b.Open("Security", winlog.ReadOptions{Direction: winlog.Reverse})
//	if err != nil {
//		return err // *winlog.ConfigError, no native session was started
//	}
//	for rec, err := range stream.All(ctx) {
//		if err != nil {
//			return err // *winlog.NativeError
//		}
//		if rec.EventID == 4625 {
//			break // the native session is disposed before the loop exits
//		}
//	}
package winlog
