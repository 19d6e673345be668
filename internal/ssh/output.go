package ssh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

type runOptions struct {
	until        string
	progress     bool
	outputFile   string
	sink         io.Writer
	pollInterval time.Duration
}

// RunOption configures Run and Start
type RunOption func(*runOptions)

// WithUntil makes Start block until a chunk of output contains marker
func WithUntil(marker string) RunOption {
	return func(o *runOptions) { o.until = marker }
}

// WithProgress logs output chunks at info level instead of debug
func WithProgress() RunOption {
	return func(o *runOptions) { o.progress = true }
}

// WithOutputFile appends every output chunk to the file at path
func WithOutputFile(path string) RunOption {
	return func(o *runOptions) { o.outputFile = path }
}

// WithSink copies every output chunk to w
func WithSink(w io.Writer) RunOption {
	return func(o *runOptions) { o.sink = w }
}

// WithRunPollInterval overrides the session poll interval for one call
func WithRunPollInterval(d time.Duration) RunOption {
	return func(o *runOptions) { o.pollInterval = d }
}

// output is the single path every chunk of command output goes through:
// the session logger first, then the sinks, in arrival order.
type output struct {
	log    *slog.Logger
	level  slog.Level
	sink   io.Writer
	closer io.Closer
}

func (c *Client) newOutput(ro runOptions) (*output, error) {
	o := &output{log: c.log, level: slog.LevelDebug}
	if ro.progress {
		o.level = slog.LevelInfo
	}

	var sinks []io.Writer
	if ro.outputFile != "" {
		path, err := homedir.Expand(ro.outputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand output path: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file: %w", err)
		}
		sinks = append(sinks, f)
		o.closer = f
	}
	if ro.sink != nil {
		sinks = append(sinks, ro.sink)
	}

	switch len(sinks) {
	case 0:
	case 1:
		o.sink = sinks[0]
	default:
		o.sink = io.MultiWriter(sinks...)
	}

	return o, nil
}

// emit logs chunk and appends it to the sink. Empty chunks are dropped.
func (o *output) emit(chunk string) error {
	if chunk == "" {
		return nil
	}

	o.log.Log(context.Background(), o.level, strings.TrimRight(chunk, "\r\n"))

	if o.sink != nil {
		if _, err := io.WriteString(o.sink, chunk); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func (o *output) Close() error {
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}
