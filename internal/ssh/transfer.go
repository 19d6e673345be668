package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// fileCopier performs a single copy over a given connection
type fileCopier interface {
	Upload(client *ssh.Client, localPath, remotePath string) error
	Download(client *ssh.Client, remotePath, localPath string) error
}

// Upload copies a local file to the guest. If the connection turns out to be
// closed, the session reconnects and the copy is retried once.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	c.log.Info("Uploading", "local", localPath, "remote", remotePath)
	return c.withReconnect(ctx, "upload", func(h *ssh.Client) error {
		return c.copier.Upload(h, localPath, remotePath)
	})
}

// Download copies a guest file to the local filesystem, with the same
// reconnect-and-retry-once behaviour as Upload.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	c.log.Info("Downloading", "remote", remotePath, "local", localPath)
	return c.withReconnect(ctx, "download", func(h *ssh.Client) error {
		return c.copier.Download(h, remotePath, localPath)
	})
}

// withReconnect runs copy on the live handle. Only a "socket closed" failure
// leads to a reconnect and exactly one more try; every other error, and the
// retry's own error, is returned as is.
func (c *Client) withReconnect(ctx context.Context, op string, transfer func(*ssh.Client) error) error {
	err := c.copyOnHandle(op, transfer)
	if !IsSocketClosed(err) {
		return err
	}

	c.log.Warn("Connection lost during transfer, reconnecting", "op", op, "error", err)
	if err := c.Reconnect(ctx); err != nil {
		return err
	}

	return c.copyOnHandle(op, transfer)
}

func (c *Client) copyOnHandle(op string, transfer func(*ssh.Client) error) error {
	h, _ := c.handle()
	if h == nil {
		return &TransportError{Op: op, Err: ErrNotConnected}
	}
	return transfer(h)
}

// sftpCopier copies files over the SFTP subsystem
type sftpCopier struct{}

// Upload uploads a local file, creating the remote parent directory
func (sftpCopier) Upload(client *ssh.Client, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return classifyTransportError("open sftp session", err)
	}
	defer sc.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return classifyTransportError("create remote directory", err)
		}
	}

	remoteFile, err := sc.Create(remotePath)
	if err != nil {
		return classifyTransportError("create remote file", err)
	}

	if _, err := remoteFile.ReadFrom(localFile); err != nil {
		remoteFile.Close()
		return classifyTransportError("upload", err)
	}

	if err := remoteFile.Close(); err != nil {
		return classifyTransportError("close remote file", err)
	}
	return nil
}

// Download downloads a remote file, creating the local parent directory
func (sftpCopier) Download(client *ssh.Client, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return classifyTransportError("open sftp session", err)
	}
	defer sc.Close()

	remoteFile, err := sc.Open(remotePath)
	if err != nil {
		return classifyTransportError("open remote file", err)
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if _, err := io.Copy(localFile, remoteFile); err != nil {
		localFile.Close()
		return classifyTransportError("download", err)
	}

	if err := localFile.Close(); err != nil {
		return fmt.Errorf("failed to write local file: %w", err)
	}
	return nil
}
