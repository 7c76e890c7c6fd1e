package nativereader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

const maxLineSize = 1 << 20 // 1MB

// exportSuffixes are tried in order when locating a channel export.
var exportSuffixes = []string{".jsonl", ".jsonl.gz", ".jsonl.zst"}

// File implements winlog.NativeReader over exported channel files.
// A channel's export lives at <dir>/<ExportFileName(nativeID)><suffix>, with
// one JSON record per line in ascending EventRecordID order. Plain, gzip and
// zstd compressed exports are supported.
type File struct {
	dir string
}

// NewFile creates a reader for the export directory dir.
func NewFile(dir string) (*File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("export directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export directory: %s is not a directory", dir)
	}
	return &File{dir: dir}, nil
}

// Dir returns the export directory.
func (f *File) Dir() string {
	return f.dir
}

// CheckHealth verifies the export directory is still readable.
func (f *File) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.ReadDir(f.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// ExportFileName returns the file base name (without suffix) for a native channel id.
func ExportFileName(nativeID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_").Replace(nativeID)
}

// StartRead opens the export for channelID on a new goroutine and streams its records.
// Open failures, malformed lines and invalid queries are delivered through cb.
// Reverse reads load the whole export before delivering the first record.
func (f *File) StartRead(channelID, query string, reverse bool, cb winlog.Callback) (winlog.DisposeFunc, error) {
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	stop := make(chan struct{})
	go f.read(channelID, query, reverse, cb, stop)

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}, nil
}

func (f *File) read(channelID, query string, reverse bool, cb winlog.Callback, stop <-chan struct{}) {
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	filter, err := CompileQuery(query)
	if err != nil {
		cb(nil, err)
		return
	}

	rc, err := f.open(channelID)
	if err != nil {
		cb(nil, err)
		return
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var parser fastjson.Parser

	var pending []*winlog.EventRecord
	lineNo := 0
	for scanner.Scan() {
		if stopped() {
			return
		}
		lineNo++
		line := scanner.Bytes()
		if isBlank(line) {
			continue
		}

		rec, err := decodeRecord(&parser, line)
		if err != nil {
			cb(nil, fmt.Errorf("line %d: %w", lineNo, err))
			return
		}
		ok, err := filter.Match(rec)
		if err != nil {
			cb(nil, err)
			return
		}
		if !ok {
			continue
		}

		if reverse {
			pending = append(pending, rec)
			continue
		}
		cb(rec, nil)
	}
	if err := scanner.Err(); err != nil {
		cb(nil, fmt.Errorf("read export: %w", err))
		return
	}

	for i := len(pending) - 1; i >= 0; i-- {
		if stopped() {
			return
		}
		cb(pending[i], nil)
	}

	if stopped() {
		return
	}
	cb(nil, nil)
}

// open locates and opens the export for channelID, wrapping it in a decompressor when needed.
func (f *File) open(channelID string) (io.ReadCloser, error) {
	base := filepath.Join(f.dir, ExportFileName(channelID))
	for _, suffix := range exportSuffixes {
		file, err := os.Open(base + suffix)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
		}

		switch suffix {
		case ".jsonl.gz":
			zr, err := gzip.NewReader(file)
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("%w: gzip: %v", ErrChannelUnavailable, err)
			}
			return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr, file}}, nil
		case ".jsonl.zst":
			dec, err := zstd.NewReader(file)
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("%w: zstd: %v", ErrChannelUnavailable, err)
			}
			return &stackedReadCloser{Reader: dec, closers: []io.Closer{dec.IOReadCloser(), file}}, nil
		default:
			return file, nil
		}
	}
	return nil, fmt.Errorf("%w: no export for %q in %s", ErrChannelUnavailable, channelID, f.dir)
}

// stackedReadCloser closes a decompressor and its underlying file together.
type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify that File implements the NativeReader interface at compile time
var _ winlog.NativeReader = (*File)(nil)
