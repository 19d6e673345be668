package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/guestexec/internal/constants"
	"github.com/yoanbernabeu/guestexec/internal/security"
)

// ExecResult holds the result of a command execution
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec executes a command on the guest and captures its output.
// A non-zero exit status is recorded in ExitCode, not returned as an error.
func (c *Client) Exec(ctx context.Context, command string) (*ExecResult, error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = runWithContext(ctx, session, command)

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			result.ExitCode = -1
		default:
			return result, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	c.log.Debug("Command finished", "exit_code", result.ExitCode)
	return result, nil
}

// Run executes command to completion and returns stdout followed by stderr.
// When both streams carry output each block is preceded by a "stdout:" or
// "stderr:" label in the log and sinks. The exit status is not inspected.
func (c *Client) Run(ctx context.Context, command string, opts ...RunOption) (string, error) {
	ro := c.runOptions(opts)

	out, err := c.newOutput(ro)
	if err != nil {
		return "", err
	}
	defer out.Close()

	c.log.Info("Executing command", "command", security.SanitizeCommandForLog(command))

	result, err := c.Exec(ctx, command)
	if err != nil {
		return "", err
	}

	labelled := result.Stdout != "" && result.Stderr != ""
	chunks := []string{result.Stdout, result.Stderr}
	if labelled {
		chunks = []string{constants.StdoutLabel, result.Stdout, constants.StderrLabel, result.Stderr}
	}
	for _, chunk := range chunks {
		if err := out.emit(chunk); err != nil {
			return "", err
		}
	}

	return result.Stdout + result.Stderr, nil
}

// Start launches command without waiting for it to finish.
//
// Without WithUntil the runner is returned right after launch and no output
// is consumed. With WithUntil the call polls the runner's output, routing
// each new chunk through the log and sinks, and returns as soon as the
// marker shows up, on a finished line or on one still being written. There is no internal timeout: the wait ends only on
// the marker, on ctx, or with ErrMarkerNotFound if the command exits first.
func (c *Client) Start(ctx context.Context, command string, opts ...RunOption) (*Runner, error) {
	ro := c.runOptions(opts)

	c.log.Info("Executing command", "command", security.SanitizeCommandForLog(command), "async", true)

	runner, err := c.startRunner(command)
	if err != nil {
		return nil, err
	}

	if ro.until == "" {
		return runner, nil
	}

	out, err := c.newOutput(ro)
	if err != nil {
		return runner, err
	}
	defer out.Close()

	// the line seen so far on each stream, for markers split across reads
	var pending [2]string
	for chunk := range runner.Chunks(ctx, ro.pollInterval) {
		if err := out.emit(chunk.Text); err != nil {
			return runner, err
		}
		line := pending[chunk.Stream] + chunk.Text
		if strings.Contains(line, ro.until) {
			return runner, nil
		}
		pending[chunk.Stream] = ""
		if !strings.HasSuffix(line, "\n") {
			pending[chunk.Stream] = line
		}
	}

	if err := ctx.Err(); err != nil {
		return runner, err
	}
	return runner, ErrMarkerNotFound
}

// SendCtrlC asks the guest to terminate the runner's process by sending a
// TERM signal request on its channel. No reply is awaited and the
// connection stays usable.
func (c *Client) SendCtrlC(runner *Runner) error {
	return c.Signal(runner, ssh.SIGTERM)
}

// Signal delivers sig to the runner's remote process. A leading "SIG" in
// the name is stripped, as the wire format expects.
func (c *Client) Signal(runner *Runner, sig ssh.Signal) error {
	if runner == nil || runner.session == nil {
		return fmt.Errorf("no running command")
	}

	name := strings.TrimPrefix(string(sig), "SIG")
	c.log.Debug("Sending signal", "signal", name,
		"command", security.SanitizeCommandForLog(runner.Command))

	if err := runner.session.Signal(ssh.Signal(name)); err != nil {
		return fmt.Errorf("failed to send SIG%s: %w", name, err)
	}
	return nil
}

func (c *Client) runOptions(opts []RunOption) runOptions {
	ro := runOptions{pollInterval: c.opts.pollInterval}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.pollInterval <= 0 {
		ro.pollInterval = DefaultPollInterval
	}
	return ro
}

// runWithContext runs command on session, closing the session if ctx is
// cancelled first.
func runWithContext(ctx context.Context, session *ssh.Session, command string) error {
	if err := session.Start(command); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		return ctx.Err()
	}
}
