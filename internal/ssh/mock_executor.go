package ssh

import "context"

// MockExecutor is a test double that records calls and returns configured results.
type MockExecutor struct {
	RunFunc      func(ctx context.Context, command string, opts ...RunOption) (string, error)
	StartFunc    func(ctx context.Context, command string, opts ...RunOption) (*Runner, error)
	UploadFunc   func(ctx context.Context, localPath, remotePath string) error
	DownloadFunc func(ctx context.Context, remotePath, localPath string) error
	Commands     []string
	Transfers    []string
	Interrupted  int
	Closed       bool
}

// Run records the command and delegates to RunFunc.
func (m *MockExecutor) Run(ctx context.Context, command string, opts ...RunOption) (string, error) {
	m.Commands = append(m.Commands, command)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, command, opts...)
	}
	return "", nil
}

// Start records the command and delegates to StartFunc.
func (m *MockExecutor) Start(ctx context.Context, command string, opts ...RunOption) (*Runner, error) {
	m.Commands = append(m.Commands, command)
	if m.StartFunc != nil {
		return m.StartFunc(ctx, command, opts...)
	}
	return nil, nil
}

// SendCtrlC counts interrupts.
func (m *MockExecutor) SendCtrlC(runner *Runner) error {
	m.Interrupted++
	return nil
}

// Upload records the transfer and delegates to UploadFunc.
func (m *MockExecutor) Upload(ctx context.Context, localPath, remotePath string) error {
	m.Transfers = append(m.Transfers, "upload "+localPath+" -> "+remotePath)
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, localPath, remotePath)
	}
	return nil
}

// Download records the transfer and delegates to DownloadFunc.
func (m *MockExecutor) Download(ctx context.Context, remotePath, localPath string) error {
	m.Transfers = append(m.Transfers, "download "+remotePath+" -> "+localPath)
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, remotePath, localPath)
	}
	return nil
}

// Close marks the mock closed.
func (m *MockExecutor) Close() error {
	m.Closed = true
	return nil
}
