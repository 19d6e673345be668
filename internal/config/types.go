package config

import (
	"time"

	"github.com/yoanbernabeu/guestexec/internal/constants"
)

// Inventory represents ~/.config/guestexec/inventory.yaml
type Inventory struct {
	VMs         map[string]VMConfig `yaml:"vms"`
	DefaultUser string              `yaml:"default_user,omitempty"`
	DefaultPort int                 `yaml:"default_port,omitempty"`
	SSH         SSHSettings         `yaml:"ssh,omitempty"`
}

// VMConfig describes how to reach one guest VM. It satisfies ssh.VMDescriptor.
type VMConfig struct {
	Host         string `yaml:"host"`
	SSHPort      int    `yaml:"port,omitempty"`
	Login        string `yaml:"user"`
	IdentityFile string `yaml:"key_file"`
	// OS is "linux" or "windows"; it only selects guest-side temp paths
	OS string `yaml:"os,omitempty"`
	// LegacyRSA offers the SHA-1 ssh-rsa signature ahead of the SHA-2 ones
	LegacyRSA bool `yaml:"legacy_rsa,omitempty"`
}

// SSHSettings holds connection tuning shared by all VMs
type SSHSettings struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`
	ReconnectRetries    int           `yaml:"reconnect_retries,omitempty"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay,omitempty"`
	PollInterval        time.Duration `yaml:"poll_interval,omitempty"`
	PublicKeyAlgorithms []string      `yaml:"public_key_algorithms,omitempty"`
	HostKeyAlgorithms   []string      `yaml:"host_key_algorithms,omitempty"`
	KnownHostsFile      string        `yaml:"known_hosts,omitempty"`
}

// Hostname returns the guest address
func (v VMConfig) Hostname() string { return v.Host }

// Port returns the SSH port of the guest
func (v VMConfig) Port() int { return v.SSHPort }

// User returns the login name
func (v VMConfig) User() string { return v.Login }

// KeyFile returns the private key path
func (v VMConfig) KeyFile() string { return v.IdentityFile }

// DefaultInventory returns an empty inventory with default settings
func DefaultInventory() *Inventory {
	return &Inventory{
		VMs:         make(map[string]VMConfig),
		DefaultUser: "vagrant",
		DefaultPort: constants.DefaultSSHPort,
		SSH:         DefaultSSHSettings(),
	}
}

// DefaultSSHSettings returns the connection defaults
func DefaultSSHSettings() SSHSettings {
	return SSHSettings{
		Timeout:          constants.DefaultConnectTimeout,
		ReconnectRetries: constants.DefaultReconnectTries,
		ReconnectDelay:   constants.DefaultReconnectDelay,
		PollInterval:     constants.DefaultPollInterval,
	}
}

// withDefaults fills zero-valued settings from DefaultSSHSettings
func (s SSHSettings) withDefaults() SSHSettings {
	d := DefaultSSHSettings()
	if s.Timeout == 0 {
		s.Timeout = d.Timeout
	}
	if s.ReconnectRetries == 0 {
		s.ReconnectRetries = d.ReconnectRetries
	}
	if s.ReconnectDelay == 0 {
		s.ReconnectDelay = d.ReconnectDelay
	}
	if s.PollInterval == 0 {
		s.PollInterval = d.PollInterval
	}
	return s
}
