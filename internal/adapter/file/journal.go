// Package file implements the journal as a local JSON-lines file.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
)

var _ port.Journal = (*Journal)(nil)

// Journal appends one JSON object per line and fsyncs after every batch.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file journal: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file journal: %w", err)
	}
	if err := trimTornTail(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("file journal: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

// trimTornTail cuts bytes after the last newline, left behind by a write
// interrupted mid-line, so the next append starts on a fresh line.
func trimTornTail(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)
	var size, complete int64
	for {
		chunk, err := r.ReadSlice('\n')
		size += int64(len(chunk))
		if err == nil {
			complete = size
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return err
	}
	if size == complete {
		return nil
	}
	if err := f.Truncate(complete); err != nil {
		return err
	}
	return f.Sync()
}

func (j *Journal) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("file journal: encode %s event: %w", ev.Kind, err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("file journal: closed")
	}
	if _, err := j.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("file journal: write: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("file journal: sync: %w", err)
	}
	return nil
}

// Replay reads the file from the start. A final line cut short by a crash is
// ignored; a malformed line anywhere else is an error.
func (j *Journal) Replay(ctx context.Context, fn func(domain.Event) error) error {
	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("file journal: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				if errors.Is(readErr, io.EOF) {
					return nil
				}
				return fmt.Errorf("file journal: line %d: %w", line, err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("file journal: read: %w", readErr)
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
