package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// TailOptions controls Tail.
type TailOptions struct {
	// Lines is the number of trailing matching records to emit first; zero
	// emits none and negative emits the whole file.
	Lines  int
	Follow bool
	// Poll is the follow-mode polling interval.
	Poll   time.Duration
	Filter Filter
}

// Tail emits the last matching records of the log at path and, in follow
// mode, every matching record appended afterwards until ctx is done. A log
// that does not exist yet is treated as empty. A truncated log is reread from
// the start.
func Tail(ctx context.Context, path string, opts TailOptions, emit func(string) error) error {
	offset, err := emitLast(path, opts.Lines, opts.Filter, emit)
	if err != nil || !opts.Follow {
		return err
	}

	poll := opts.Poll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		offset, err = emitFrom(path, offset, opts.Filter, emit)
		if err != nil {
			return err
		}
	}
}

func emitLast(path string, limit int, filter Filter, emit func(string) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	var all []string
	offset, err := scan(file, func(line string) error {
		if !filter.Matches(line) {
			return nil
		}
		switch {
		case limit < 0:
			all = append(all, line)
		case limit > 0:
			if len(ring) == limit {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, line)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		ring = all
	}
	for _, line := range ring {
		if err := emit(line); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

func emitFrom(path string, offset int64, filter Filter, emit func(string) error) (int64, error) {
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
	if info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	consumed, err := scan(file, func(line string) error {
		if filter.Matches(line) {
			return emit(line)
		}
		return nil
	})
	return offset + consumed, err
}

// scan feeds complete lines to fn and returns the number of bytes consumed.
// A trailing line without a newline is left for the next read since the
// writer may still be appending to it.
func scan(r io.Reader, fn func(string) error) (int64, error) {
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
		if len(line) > maxLineBytes {
			continue
		}
		if err := fn(line[:len(line)-1]); err != nil {
			return consumed, err
		}
	}
}
