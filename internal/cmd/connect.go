package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yoanbernabeu/guestexec/internal/config"
	"github.com/yoanbernabeu/guestexec/internal/constants"
	"github.com/yoanbernabeu/guestexec/internal/security"
	"github.com/yoanbernabeu/guestexec/internal/ssh"
)

// GuestConnection holds a connected session along with the VM it is bound to.
type GuestConnection struct {
	Client    *ssh.Client
	VM        *config.VMConfig
	Inventory *config.Inventory
}

// ConnectToVM validates the VM name, loads the inventory and establishes an
// SSH session. The caller must defer conn.Client.Close().
func ConnectToVM(ctx context.Context, name string, opts ...ssh.ClientOption) (*GuestConnection, error) {
	if err := security.ValidateVMName(name); err != nil {
		return nil, fmt.Errorf("invalid VM name: %w", err)
	}

	inv, err := config.LoadInventory(GetInventoryFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	vm, err := inv.GetVM(name)
	if err != nil {
		return nil, err
	}

	allOpts := sshOptsFromSettings(inv.SSH, NewLogger(), append(vmOptions(*vm), opts...))

	client := ssh.NewClient(name, *vm, allOpts...)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &GuestConnection{
		Client:    client,
		VM:        vm,
		Inventory: inv,
	}, nil
}

// sshOptsFromSettings turns the inventory ssh block into client options.
// Options passed by the caller come last and win.
func sshOptsFromSettings(s config.SSHSettings, logger *slog.Logger, opts []ssh.ClientOption) []ssh.ClientOption {
	base := []ssh.ClientOption{
		ssh.WithLogger(logger),
		ssh.WithTimeout(s.Timeout),
		ssh.WithRetryPolicy(ssh.RetryPolicy{Attempts: s.ReconnectRetries, Delay: s.ReconnectDelay}),
		ssh.WithPollInterval(s.PollInterval),
	}
	if len(s.PublicKeyAlgorithms) > 0 {
		base = append(base, ssh.WithPublicKeyAlgorithms(s.PublicKeyAlgorithms))
	}
	if len(s.HostKeyAlgorithms) > 0 {
		base = append(base, ssh.WithHostKeyAlgorithms(s.HostKeyAlgorithms))
	}
	if s.KnownHostsFile != "" {
		base = append(base, ssh.WithKnownHosts(s.KnownHostsFile))
	}
	return append(base, opts...)
}

// vmOptions returns the client options a single VM entry asks for
func vmOptions(vm config.VMConfig) []ssh.ClientOption {
	var opts []ssh.ClientOption
	if vm.LegacyRSA {
		opts = append(opts, ssh.WithPublicKeyAlgorithms(constants.LegacyPublicKeyAlgorithms))
	}
	return opts
}
