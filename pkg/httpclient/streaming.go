package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// maxFrameSize bounds one SSE line
const maxFrameSize = 1 << 20

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("stream closed")

// EventStream reads one server-sent event stream. Records are read from the
// connection only when Next is called, so a slow consumer slows the server's
// native read instead of buffering records.
type EventStream struct {
	resp      *http.Response
	scanner   *bufio.Scanner
	cancel    context.CancelFunc
	sessionID string
	end       *StreamEnd
	err       error
}

// Stream opens an SSE stream over channel. Request errors (unknown channel,
// bad direction, session limit) are returned here as *APIError before any
// record is read. The stream must be closed.
func (c *Client) Stream(ctx context.Context, channel string, req ReadRequest) (*EventStream, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := c.newRequest(streamCtx, http.MethodGet, eventsPath(channel), req.values(), nil, true)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &EventStream{
		resp:      resp,
		scanner:   scanner,
		cancel:    cancel,
		sessionID: resp.Header.Get("X-Session-ID"),
	}, nil
}

// SessionID returns the server-side session ID
func (s *EventStream) SessionID() string {
	return s.sessionID
}

// End returns the payload of the "end" event, nil until the stream ended cleanly
func (s *EventStream) End() *StreamEnd {
	return s.end
}

// Next returns the next record. It returns io.EOF after the server's "end"
// event, an *APIError after an "error" event, and io.ErrUnexpectedEOF if the
// connection ends without either.
func (s *EventStream) Next() (*winlog.EventRecord, error) {
	if s.err != nil {
		return nil, s.err
	}

	var event, data string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if data == "" {
				event = ""
				continue
			}
			rec, err := s.dispatch(event, data)
			if err != nil {
				s.fail(err)
				return nil, err
			}
			return rec, nil
		case strings.HasPrefix(line, ":"):
			// Comment or keepalive
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	err := s.scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	} else {
		err = fmt.Errorf("error reading SSE stream: %w", err)
	}
	s.fail(err)
	return nil, err
}

// dispatch decodes one complete frame
func (s *EventStream) dispatch(event, data string) (*winlog.EventRecord, error) {
	switch event {
	case "", "message":
		var rec winlog.EventRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse event: %w", err)
		}
		return &rec, nil

	case "end":
		var end StreamEnd
		if err := json.Unmarshal([]byte(data), &end); err != nil {
			return nil, fmt.Errorf("failed to parse end event: %w", err)
		}
		s.end = &end
		return nil, io.EOF

	case "error":
		var errResp ErrorResponse
		if err := json.Unmarshal([]byte(data), &errResp); err != nil {
			return nil, fmt.Errorf("failed to parse error event: %w", err)
		}
		if errResp.Code == 0 {
			errResp.Code = http.StatusBadGateway
		}
		return nil, &APIError{StatusCode: errResp.Code, Message: errResp.Message}

	default:
		return nil, fmt.Errorf("unexpected event %q", event)
	}
}

func (s *EventStream) fail(err error) {
	s.err = err
	s.cancel()
	s.resp.Body.Close()
}

// All returns a range-over-func view of the stream that closes it when the loop ends
func (s *EventStream) All() iter.Seq2[*winlog.EventRecord, error] {
	return func(yield func(*winlog.EventRecord, error) bool) {
		defer s.Close()
		for {
			rec, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close disconnects. The server closes its session in response.
func (s *EventStream) Close() error {
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.cancel()
	return s.resp.Body.Close()
}
