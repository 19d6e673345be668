package ssh

import "context"

// Executor abstracts a guest session for testability.
type Executor interface {
	Run(ctx context.Context, command string, opts ...RunOption) (string, error)
	Start(ctx context.Context, command string, opts ...RunOption) (*Runner, error)
	SendCtrlC(runner *Runner) error
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Close() error
}

var _ Executor = (*Client)(nil)
