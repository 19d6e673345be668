package constants

import (
	"path/filepath"
	"time"
)

// Connection defaults
const (
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 30 * time.Second
	DefaultReconnectTries = 5
	DefaultReconnectDelay = 2 * time.Second
)

// Command execution defaults
const (
	DefaultPollInterval = 100 * time.Millisecond
	StdoutLabel         = "stdout:"
	StderrLabel         = "stderr:"
)

// SocketClosedMessage is the message fragment that marks a transient
// transport failure eligible for reconnect-and-retry.
const SocketClosedMessage = "Socket is closed"

// Guest-side working folders used by the analysis harness.
const (
	GuestTempDirLinux   = "/tmp/cvex"
	GuestTempDirWindows = `C:\cvex`
)

// Local configuration layout
const (
	ConfigDirName     = "guestexec"
	InventoryFileName = "inventory.yaml"
)

// LegacyPublicKeyAlgorithms lists the client auth algorithms in the order
// older guest images accept them: plain ssh-rsa ahead of the SHA-2 variants.
var LegacyPublicKeyAlgorithms = []string{
	"ssh-rsa",
	"rsa-sha2-512",
	"rsa-sha2-256",
}

// GuestTempPath returns the path of name inside the guest working folder
// for the given guest OS ("linux" or "windows").
func GuestTempPath(guestOS, name string) string {
	if guestOS == "windows" {
		return GuestTempDirWindows + `\` + name
	}
	return filepath.ToSlash(filepath.Join(GuestTempDirLinux, name))
}
