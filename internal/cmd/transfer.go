package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/guestexec/internal/constants"
	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <vm> <local> [remote]",
	Short: "Copy a local file to a VM",
	Long: `Copies a local file to a guest VM over SFTP.

When remote is omitted the file lands in the guest temp directory
(/tmp/cvex on Linux, C:\cvex on Windows). If the guest drops the
connection mid-transfer guestexec reconnects and retries once.

Example:
  guestexec upload target ./poc.py
  guestexec upload target ./poc.py /opt/poc/poc.py`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runUpload,
}

var downloadCmd = &cobra.Command{
	Use:   "download <vm> <remote> <local>",
	Short: "Copy a file from a VM",
	Long: `Copies a file from a guest VM to the local filesystem over SFTP,
with the same reconnect-and-retry-once behaviour as upload.

Example:
  guestexec download target /tmp/cvex/trace.log ./out/trace.log`,
	Args: cobra.ExactArgs(3),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	vmName, local := args[0], args[1]

	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("cannot read %s: %w", local, err)
	}

	ctx := commandContext(cmd)
	conn, err := ConnectToVM(ctx, vmName)
	if err != nil {
		return err
	}
	defer conn.Client.Close()

	remote := ""
	if len(args) == 3 {
		remote = args[2]
	}
	remote = remoteUploadPath(conn.VM.OS, local, remote)

	if err := uploadFile(ctx, conn.Client, local, remote); err != nil {
		return err
	}
	PrintSuccess("Uploaded %s to %s:%s", local, vmName, remote)
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	vmName, remote, local := args[0], args[1], args[2]

	ctx := commandContext(cmd)
	conn, err := ConnectToVM(ctx, vmName)
	if err != nil {
		return err
	}
	defer conn.Client.Close()

	if err := downloadFile(ctx, conn.Client, remote, local); err != nil {
		return err
	}
	PrintSuccess("Downloaded %s:%s to %s", vmName, remote, local)
	return nil
}

// remoteUploadPath defaults the destination to the guest temp directory
func remoteUploadPath(guestOS, local, remote string) string {
	if remote != "" {
		return remote
	}
	return constants.GuestTempPath(guestOS, baseName(local))
}

// baseName returns the last element of a local path, whatever its separator
func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}

func uploadFile(ctx context.Context, exec ssh.Executor, local, remote string) error {
	if err := exec.Upload(ctx, local, remote); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func downloadFile(ctx context.Context, exec ssh.Executor, remote, local string) error {
	if err := exec.Download(ctx, remote, local); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
