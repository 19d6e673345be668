package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/guestexec/internal/config"
	"github.com/yoanbernabeu/guestexec/internal/security"
	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage the VM inventory",
	Long:  `Commands to add, list and remove guest VMs in the inventory.`,
}

var vmAddCmd = &cobra.Command{
	Use:   "add <name> <host>",
	Short: "Add a VM",
	Long: `Adds a guest VM to the inventory.

Example:
  guestexec vm add router 192.168.56.10 --key ~/.vagrant.d/insecure_private_key
  guestexec vm add win10 192.168.56.20 --user IEUser --os windows --port 2222
  guestexec vm add xp 192.168.56.30 --key ~/.ssh/xp_rsa --legacy-rsa

--legacy-rsa is for old guest images whose sshd only accepts SHA-1 ssh-rsa
signatures.`,
	Args: cobra.ExactArgs(2),
	RunE: runVMAdd,
}

var vmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs in the inventory",
	RunE:  runVMList,
}

var vmRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a VM",
	Args:  cobra.ExactArgs(1),
	RunE:  runVMRemove,
}

var (
	vmPort      int
	vmUser      string
	vmKeyPath   string
	vmOS        string
	vmLegacyRSA bool
	skipSSHTest bool
)

func init() {
	rootCmd.AddCommand(vmCmd)
	vmCmd.AddCommand(vmAddCmd)
	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmRemoveCmd)

	vmAddCmd.Flags().IntVarP(&vmPort, "port", "p", 0, "SSH port (default: inventory default_port)")
	vmAddCmd.Flags().StringVarP(&vmUser, "user", "u", "", "Login name (default: inventory default_user)")
	vmAddCmd.Flags().StringVarP(&vmKeyPath, "key", "k", "", "SSH private key path (required)")
	vmAddCmd.Flags().StringVar(&vmOS, "os", "linux", "Guest OS: linux or windows")
	vmAddCmd.Flags().BoolVar(&vmLegacyRSA, "legacy-rsa", false, "Offer ssh-rsa (SHA-1) before the SHA-2 RSA signatures")
	vmAddCmd.Flags().BoolVar(&skipSSHTest, "skip-test", false, "Skip SSH connection test")
	_ = vmAddCmd.MarkFlagRequired("key")
}

func runVMAdd(cmd *cobra.Command, args []string) error {
	name, host := args[0], args[1]

	if err := security.ValidateVMName(name); err != nil {
		return fmt.Errorf("invalid VM name: %w", err)
	}

	keyInfo, err := ssh.ValidateSSHKey(vmKeyPath)
	if err != nil {
		return err
	}
	if keyInfo.IsEncrypted {
		PrintWarning("Key %s is passphrase-protected, guestexec cannot use it unattended", keyInfo.Path)
	}

	inv, err := config.LoadInventory(GetInventoryFile())
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}

	vm := config.VMConfig{
		Host:         host,
		SSHPort:      vmPort,
		Login:        vmUser,
		IdentityFile: keyInfo.Path,
		OS:           vmOS,
		LegacyRSA:    vmLegacyRSA,
	}
	if err := inv.AddVM(name, vm); err != nil {
		return err
	}

	if err := config.SaveInventory(GetInventoryFile(), inv); err != nil {
		return fmt.Errorf("failed to save inventory: %w", err)
	}

	added := inv.VMs[name]
	PrintSuccess("Added VM '%s' (%s@%s:%d, %s key)", name, added.Login, added.Host, added.SSHPort, keyInfo.Type)

	if skipSSHTest {
		PrintInfo("Skipping SSH connection test (--skip-test)")
		return nil
	}

	PrintInfo("Testing SSH connection...")
	if err := testConnection(commandContext(cmd), name, added, inv.SSH); err != nil {
		PrintWarning("SSH connection could not be established: %v", err)
		PrintInfo("You can test the connection manually with: ssh -i %s -p %d %s@%s",
			added.IdentityFile, added.SSHPort, added.Login, added.Host)
		return nil
	}
	PrintSuccess("SSH connection successful")
	return nil
}

// testConnection connects once, without the reconnect policy
func testConnection(ctx context.Context, name string, vm config.VMConfig, settings config.SSHSettings) error {
	client := ssh.NewClient(name, vm, sshOptsFromSettings(settings, NewLogger(), vmOptions(vm))...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	return pingGuest(ctx, client, 1, 0)
}

func runVMList(cmd *cobra.Command, args []string) error {
	inv, err := config.LoadInventory(GetInventoryFile())
	if err != nil {
		return err
	}

	names := inv.ListVMs()
	if len(names) == 0 {
		PrintInfo("No VMs configured")
		fmt.Println()
		fmt.Println("Add a VM with:")
		fmt.Println("  guestexec vm add <name> <host> --key <private key>")
		return nil
	}

	fmt.Println("Configured VMs:")
	fmt.Println()
	for _, name := range names {
		vm := inv.VMs[name]
		fmt.Printf("  %s\n", name)
		fmt.Printf("    Host: %s@%s:%d\n", vm.Login, vm.Host, vm.SSHPort)
		fmt.Printf("    Key:  %s\n", vm.IdentityFile)
		fmt.Printf("    OS:   %s\n", vm.OS)
		if vm.LegacyRSA {
			fmt.Println("    Auth: legacy ssh-rsa first")
		}
		fmt.Println()
	}

	return nil
}

func runVMRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	inv, err := config.LoadInventory(GetInventoryFile())
	if err != nil {
		return err
	}

	if _, err := inv.GetVM(name); err != nil {
		return err
	}

	if IsInteractive() && !PromptConfirm(os.Stdin, fmt.Sprintf("Remove VM '%s' from the inventory?", name)) {
		PrintInfo("Cancelled")
		return nil
	}

	if err := inv.RemoveVM(name); err != nil {
		return err
	}

	if err := config.SaveInventory(GetInventoryFile(), inv); err != nil {
		return fmt.Errorf("failed to save inventory: %w", err)
	}

	PrintSuccess("Removed VM '%s'", name)
	return nil
}
