package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/guestexec/internal/probe"
	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

var pingCmd = &cobra.Command{
	Use:   "ping <vm>",
	Short: "Check that a VM is reachable",
	Long: `Connects to a guest VM and runs a trivial command to check that the
SSH service answers and commands execute.

With --wait the probe is repeated until the guest answers, which is
useful right after a snapshot was restored.

Example:
  guestexec ping router
  guestexec ping router --wait 10 --interval 3s`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

const pingMarker = "guestexec-pong"

var (
	pingWait     int
	pingInterval time.Duration
)

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingWait, "wait", 1, "Number of probe attempts")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 2*time.Second, "Delay between probe attempts")
}

func runPing(cmd *cobra.Command, args []string) error {
	vmName := args[0]
	ctx := commandContext(cmd)

	start := time.Now()
	conn, err := ConnectToVM(ctx, vmName)
	if err != nil {
		return err
	}
	defer conn.Client.Close()

	if err := pingGuest(ctx, conn.Client, pingWait, pingInterval); err != nil {
		return err
	}

	PrintSuccess("%s (%s@%s:%d) answered in %s", vmName, conn.VM.Login, conn.VM.Host, conn.VM.SSHPort,
		time.Since(start).Round(time.Millisecond))
	return nil
}

// pingGuest echoes a marker on the guest until it comes back
func pingGuest(ctx context.Context, exec ssh.Executor, attempts int, interval time.Duration) error {
	checker := probe.NewChecker(exec, "echo "+pingMarker, pingMarker)
	checker.SetRetries(attempts)
	checker.SetInterval(interval)
	checker.SetTimeout(time.Duration(attempts) * (interval + time.Minute))

	result, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	if !result.Ready {
		return fmt.Errorf("guest not ready after %d attempts: %s", result.Attempts, result.Message)
	}
	PrintVerbose("Probe answered in %s", result.ResponseTime.Round(time.Millisecond))
	return nil
}
