package events

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

const maxLineBytes = 1 << 20

// fileSource replays JSON-lines events from a file or stdin, then returns.
type fileSource struct {
	id   string
	path string
	open func(path string) (io.ReadCloser, error)
	log  Logger
}

func newFileSource(_ context.Context, cfg SourceConfig, log Logger) (Source, error) {
	if cfg.File == nil {
		return nil, fmt.Errorf("source %q missing file configuration", cfg.ID)
	}
	return &fileSource{
		id:   cfg.ID,
		path: cfg.File.Path,
		open: openPath,
		log:  ensureLogger(log),
	}, nil
}

func openPath(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func (f *fileSource) ID() string   { return f.id }
func (f *fileSource) Type() string { return TypeFile }

// Run handles every line in order. Undecodable lines and handler failures are logged
// and skipped; a file source has nowhere to redeliver to.
func (f *fileSource) Run(ctx context.Context, handle Handler) error {
	r, err := f.open(f.path)
	if err != nil {
		return fmt.Errorf("open event file: %w", err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		// Line numbers are not stable across replays, so id-less events keep an
		// empty ID and are deduplicated on their content downstream.
		evt, err := decodeEvent(raw, "")
		if err != nil {
			f.log.WarnObj("file source skipped line", "source_file_decode", map[string]any{
				"source_id": f.id,
				"line":      line,
				"error":     err.Error(),
			})
			continue
		}
		if err := handle(ctx, evt); err != nil {
			f.log.WarnObj("file source handler failed", "source_file_handler", map[string]any{
				"source_id": f.id,
				"line":      line,
				"event_id":  evt.ID,
				"error":     err.Error(),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	return nil
}
