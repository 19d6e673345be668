package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/guestexec/internal/security"
	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

var runCmd = &cobra.Command{
	Use:   "run <vm> -- <command> [args...]",
	Short: "Run a command on a VM",
	Long: `Runs a command on a guest VM.

By default the command runs to completion and its stdout and stderr are
printed. When both streams produced output each block is labelled.
The exit status of the command is not treated as a failure.

With --async the command is started without waiting for it. Combined
with --until, guestexec streams the output until the marker shows up and
then returns. --interrupt sends a TERM signal once the marker was seen.

The command lives on the SSH session of this invocation and is torn down
when guestexec exits. To keep it running on the guest afterwards, detach
it there, for example with nohup or setsid:

  guestexec run target --async --until "Listening on" -- \
    'nohup ./server.sh > server.log 2>&1 & tail -f server.log'

Example:
  guestexec run router -- uname -a
  guestexec run router --output trace.log -- strace -f ./poc
  guestexec run target --async --until "Listening on" -- ./server.sh`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

// runFlags holds the options of a single run invocation
type runFlags struct {
	async     bool
	until     string
	output    string
	interrupt bool
	progress  bool
}

var runOpts runFlags

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOpts.async, "async", false, "Start the command without waiting for it to finish")
	runCmd.Flags().StringVar(&runOpts.until, "until", "", "With --async, stream output until it contains this marker")
	runCmd.Flags().StringVarP(&runOpts.output, "output", "o", "", "Append command output to this file")
	runCmd.Flags().BoolVar(&runOpts.interrupt, "interrupt", false, "With --async, send TERM to the command after the marker")
	runCmd.Flags().BoolVar(&runOpts.progress, "progress", IsTerminalOutput(), "Log output chunks at info level")
}

func runRun(cmd *cobra.Command, args []string) error {
	vmName := args[0]
	command := security.JoinArgs(args[1:])

	if err := validateRunFlags(runOpts); err != nil {
		return err
	}

	ctx := commandContext(cmd)

	conn, err := ConnectToVM(ctx, vmName)
	if err != nil {
		return err
	}
	defer conn.Client.Close()

	return executeRun(ctx, conn.Client, command, runOpts, os.Stdout)
}

func validateRunFlags(f runFlags) error {
	if !f.async && f.until != "" {
		return fmt.Errorf("--until requires --async")
	}
	if !f.async && f.interrupt {
		return fmt.Errorf("--interrupt requires --async")
	}
	return nil
}

// executeRun runs command on exec according to f, writing output to w
func executeRun(ctx context.Context, exec ssh.Executor, command string, f runFlags, w io.Writer) error {
	PrintVerboseCommand(command)

	opts := []ssh.RunOption{ssh.WithSink(w)}
	if f.output != "" {
		opts = append(opts, ssh.WithOutputFile(f.output))
	}
	if f.progress {
		opts = append(opts, ssh.WithProgress())
	}

	if !f.async {
		_, err := exec.Run(ctx, command, opts...)
		return err
	}

	if f.until != "" {
		opts = append(opts, ssh.WithUntil(f.until))
	}

	runner, err := exec.Start(ctx, command, opts...)
	if err != nil {
		return err
	}

	if f.interrupt {
		if err := exec.SendCtrlC(runner); err != nil {
			return fmt.Errorf("failed to interrupt command: %w", err)
		}
	}
	return nil
}
