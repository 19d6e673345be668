package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Stream identifies which output stream a chunk came from
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is one line of output, trailing newline included. A line still
// being written when it was read is published as it stands and lacks the
// newline; its continuation arrives as the next chunk.
type Chunk struct {
	Stream Stream
	Text   string
}

// Runner is a handle on a command started with Start. Its output is kept in
// two append-only chunk lists that are read by index and never drained.
// A Runner belongs to the connection that started it: after the session
// reconnects it is stale and must not be polled.
type Runner struct {
	Command string

	owner      *Client
	session    *ssh.Session
	generation uint64

	mu     sync.Mutex
	stdout []string
	stderr []string

	readers  sync.WaitGroup
	done     chan struct{}
	exitCode int
	waitErr  error

	cursorMu  sync.Mutex
	outCursor int
	errCursor int
}

// startRunner opens a session, starts command and begins collecting output
func (c *Client) startRunner(command string) (*Runner, error) {
	h, generation := c.handle()
	if h == nil {
		return nil, fmt.Errorf("failed to create session: %w", ErrNotConnected)
	}

	session, err := h.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	r := &Runner{
		Command:    command,
		owner:      c,
		session:    session,
		generation: generation,
		done:       make(chan struct{}),
	}

	r.readers.Add(2)
	go r.collect(Stdout, stdout)
	go r.collect(Stderr, stderr)
	go r.wait()

	return r, nil
}

// collect appends what is read from src to the stream's chunk list, one
// chunk per line. The unterminated tail of a read is stored right away so
// a prompt without a newline is visible while the command keeps running.
func (r *Runner) collect(stream Stream, src io.Reader) {
	defer r.readers.Done()

	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			r.store(stream, splitLines(string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) store(stream Stream, chunks []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stream == Stderr {
		r.stderr = append(r.stderr, chunks...)
	} else {
		r.stdout = append(r.stdout, chunks...)
	}
}

// splitLines cuts text after every newline, dropping the empty remainder
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// wait records the exit status once the command and both readers finished
func (r *Runner) wait() {
	err := r.session.Wait()
	r.readers.Wait()

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		r.exitCode = exitErr.ExitStatus()
	case errors.As(err, &missingErr):
		r.exitCode = -1
	default:
		r.exitCode = -1
		r.waitErr = err
	}
	close(r.done)
}

// StdoutLen returns the number of stdout chunks received so far
func (r *Runner) StdoutLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stdout)
}

// StderrLen returns the number of stderr chunks received so far
func (r *Runner) StderrLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stderr)
}

// Stdout returns a copy of the stdout chunks from index from onwards
func (r *Runner) Stdout(from int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tail(r.stdout, from)
}

// Stderr returns a copy of the stderr chunks from index from onwards
func (r *Runner) Stderr(from int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tail(r.stderr, from)
}

func tail(chunks []string, from int) []string {
	if from < 0 {
		from = 0
	}
	if from >= len(chunks) {
		return nil
	}
	out := make([]string, len(chunks)-from)
	copy(out, chunks[from:])
	return out
}

// Chunks returns the runner's output as a sequence that polls for new
// chunks every interval. Stdout chunks of one poll come before stderr ones.
// The sequence ends when the command has exited and every chunk has been
// yielded, or when ctx is done. Its cursors are shared by every call, so a
// chunk is yielded at most once over the runner's lifetime.
func (r *Runner) Chunks(ctx context.Context, interval time.Duration) iter.Seq[Chunk] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return func(yield func(Chunk) bool) {
		r.cursorMu.Lock()
		defer r.cursorMu.Unlock()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			// read after the exit check so nothing appended before exit is missed
			finished := r.Exited()

			for _, text := range r.Stdout(r.outCursor) {
				r.outCursor++
				if !yield(Chunk{Stream: Stdout, Text: text}) {
					return
				}
			}
			for _, text := range r.Stderr(r.errCursor) {
				r.errCursor++
				if !yield(Chunk{Stream: Stderr, Text: text}) {
					return
				}
			}

			if finished {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// Exited reports whether the remote command has finished
func (r *Runner) Exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed once the command has exited and its output is collected
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the command exits and returns its exit status.
// As with Run, a non-zero status is not an error.
func (r *Runner) Wait() (int, error) {
	<-r.done
	return r.exitCode, r.waitErr
}

// Stale reports whether the session reconnected since the runner started
func (r *Runner) Stale() bool {
	return r.owner.currentGeneration() != r.generation
}

// Close releases the runner's channel
func (r *Runner) Close() error {
	err := r.session.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
