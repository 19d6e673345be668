// Package probe checks that a guest answers commands, typically right after
// a snapshot was restored and sshd is still coming up.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

// Checker runs a probe command on a guest until its output contains the
// expected text
type Checker struct {
	client   ssh.Executor
	command  string
	expect   string
	timeout  time.Duration
	retries  int
	interval time.Duration
}

// NewChecker creates a new checker
func NewChecker(client ssh.Executor, command, expect string) *Checker {
	return &Checker{
		client:   client,
		command:  command,
		expect:   expect,
		timeout:  30 * time.Second,
		retries:  5,
		interval: 2 * time.Second,
	}
}

// SetTimeout sets the overall timeout
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SetRetries sets the number of attempts
func (c *Checker) SetRetries(retries int) {
	c.retries = retries
}

// SetInterval sets the interval between attempts
func (c *Checker) SetInterval(interval time.Duration) {
	c.interval = interval
}

// Result contains the outcome of a probe
type Result struct {
	Ready        bool
	Message      string
	ResponseTime time.Duration
	Attempts     int
}

// Check runs the probe until it succeeds, attempts run out or the timeout
// passes. The timeout also bounds a command that hangs. A guest that never
// answers is reported in the Result, not as an error; only a cancelled ctx
// is returned as one.
func (c *Checker) Check(ctx context.Context) (*Result, error) {
	result := &Result{}

	retries := c.retries
	if retries < 1 {
		retries = 1
	}
	runCtx, cancel := context.WithDeadline(ctx, time.Now().Add(c.timeout))
	defer cancel()

	// timedOut settles the result once runCtx is done
	timedOut := func() (*Result, error) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Ready = false
		result.Message = "probe timeout"
		return result, nil
	}

	for attempt := 1; attempt <= retries; attempt++ {
		if runCtx.Err() != nil {
			return timedOut()
		}
		result.Attempts = attempt

		start := time.Now()
		out, err := c.client.Run(runCtx, c.command)
		result.ResponseTime = time.Since(start)

		switch {
		case err != nil && runCtx.Err() != nil:
			return timedOut()
		case err != nil:
			result.Message = fmt.Sprintf("probe command failed: %v", err)
		case !strings.Contains(out, c.expect):
			result.Message = fmt.Sprintf("unexpected probe output: %q", strings.TrimSpace(out))
		default:
			result.Ready = true
			result.Message = "ready"
			return result, nil
		}

		if attempt == retries {
			break
		}
		select {
		case <-runCtx.Done():
			return timedOut()
		case <-time.After(c.interval):
		}
	}

	return result, nil
}
