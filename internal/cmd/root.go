package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/guestexec/internal/logging"
	"github.com/yoanbernabeu/guestexec/internal/security"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	verbose       bool
	inventoryFile string
	yesFlag       bool // scripts: skip confirmations
)

var rootCmd = &cobra.Command{
	Use:   "guestexec",
	Short: "Run commands and copy files on analysis VMs over SSH",
	Long: `guestexec drives guest VMs of an analysis lab over SSH. It runs
commands synchronously or in the background, waits for a marker in the
output of long-running tools, interrupts them, and copies files in and
out of the guest, reconnecting when a guest drops the connection.

Quick start:
  guestexec vm add router 192.168.56.10 --key ~/.vagrant.d/insecure_private_key
  guestexec run router -- uname -a
  guestexec run router --async --until READY -- ./server.sh

Commands:
  run           Run a command on a VM
  upload        Copy a local file to a VM
  download      Copy a file from a VM
  ping          Check that a VM is reachable
  vm            Manage the VM inventory`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError("%v", err)
	}
	return err
}

// GetRootCmd returns the root command, used to generate documentation
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs, including every output chunk")
	rootCmd.PersistentFlags().StringVar(&inventoryFile, "inventory", "", "Inventory file (default: ~/.config/guestexec/inventory.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmations")

	rootCmd.SetVersionTemplate(`guestexec {{.Version}}
`)
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// GetInventoryFile returns the inventory path given on the command line
func GetInventoryFile() string {
	return inventoryFile
}

// IsYesMode returns true if --yes flag is set
func IsYesMode() bool {
	return yesFlag
}

// NewLogger returns the logger sessions started by the CLI log to
func NewLogger() *slog.Logger {
	return logging.New(os.Stderr, verbose)
}

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	fmt.Printf("✅ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	fmt.Printf("ℹ️  "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	fmt.Printf("⚠️  "+msg+"\n", args...)
}

// PrintVerbose prints a message only in verbose mode
func PrintVerbose(msg string, args ...interface{}) {
	if verbose {
		fmt.Printf("   "+msg+"\n", args...)
	}
}

// PrintVerboseCommand prints a command in verbose mode with sensitive values masked
func PrintVerboseCommand(command string) {
	if verbose {
		fmt.Printf("   Running: %s\n", security.SanitizeCommandForLog(command))
	}
}
