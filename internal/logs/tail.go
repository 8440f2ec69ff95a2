package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mediaflow/internal/logging"
)

// Matcher selects the log lines a caller wants to see. A nil Matcher keeps
// every line.
type Matcher func(line string) bool

// TailOptions controls Tail.
type TailOptions struct {
	Limit int
	Match Matcher
}

// TailResult holds the selected lines and the offset just past them.
type TailResult struct {
	Lines  []string
	Offset int64
}

// ProcessMatcher keeps lines tagged with the given process id in either the
// console or the JSON log format.
func ProcessMatcher(processID string) Matcher {
	processID = strings.TrimSpace(processID)
	if processID == "" {
		return nil
	}
	console := logging.FieldProcessID + "=" + processID
	jsonField := fmt.Sprintf("%q:%q", logging.FieldProcessID, processID)
	return func(line string) bool {
		return strings.Contains(line, jsonField) || containsField(line, console)
	}
}

// containsField matches key=value only when value is not a prefix of a
// longer id.
func containsField(line, field string) bool {
	for start := 0; ; {
		idx := strings.Index(line[start:], field)
		if idx < 0 {
			return false
		}
		end := start + idx + len(field)
		if end == len(line) || line[end] == ' ' {
			return true
		}
		start = end
	}
}

// Tail returns up to opts.Limit trailing lines that satisfy opts.Match. A
// missing file yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Limit <= 0 {
		return TailResult{Offset: info.Size()}, nil
	}

	ring := make([]string, opts.Limit)
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if opts.Match != nil && !opts.Match(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % opts.Limit
		if count < opts.Limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, count)
	if count == opts.Limit {
		for i := range count {
			lines[i] = ring[(idx+i)%opts.Limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// Follow emits matching lines appended after offset, polling every interval
// until ctx is cancelled. A file shorter than offset is treated as rotated
// and read again from the start.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, match Matcher, emit func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, match, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, match Matcher, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if offset == info.Size() {
		return offset, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	read, err := scanLines(file, func(line string) {
		if match == nil || match(line) {
			emit(line)
		}
	})
	if err != nil {
		return offset, err
	}
	return offset + read, nil
}

// scanLines feeds complete lines to fn and returns the bytes consumed. A
// trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		fn(strings.TrimRight(line, "\r\n"))
	}
}
