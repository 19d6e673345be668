package config

import (
	"fmt"
	"strings"

	"github.com/yoanbernabeu/guestexec/internal/security"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateVMConfig validates a VM descriptor
func ValidateVMConfig(vm *VMConfig) ValidationErrors {
	var errors ValidationErrors

	if vm.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "VM host is required",
		})
	} else if err := security.ValidateHostname(vm.Host); err != nil {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: err.Error(),
		})
	}

	if vm.Login == "" {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: "VM user is required",
		})
	} else if err := security.ValidateUser(vm.Login); err != nil {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: err.Error(),
		})
	}

	if vm.SSHPort < 1 || vm.SSHPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "port",
			Message: "port must be between 1 and 65535",
		})
	}

	if vm.IdentityFile == "" {
		errors = append(errors, ValidationError{
			Field:   "key_file",
			Message: "private key file is required",
		})
	}

	if vm.OS != "" && vm.OS != "linux" && vm.OS != "windows" {
		errors = append(errors, ValidationError{
			Field:   "os",
			Message: "os must be linux or windows",
		})
	}

	return errors
}

// ValidateSSHSettings validates the shared connection settings
func ValidateSSHSettings(s *SSHSettings) ValidationErrors {
	var errors ValidationErrors

	if s.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "ssh.timeout",
			Message: "timeout cannot be negative",
		})
	}

	if s.ReconnectRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "ssh.reconnect_retries",
			Message: "reconnect_retries must be a positive number",
		})
	}

	if s.ReconnectDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "ssh.reconnect_delay",
			Message: "reconnect_delay cannot be negative",
		})
	}

	if s.PollInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "ssh.poll_interval",
			Message: "poll_interval cannot be negative",
		})
	}

	for _, algo := range s.PublicKeyAlgorithms {
		if strings.TrimSpace(algo) == "" {
			errors = append(errors, ValidationError{
				Field:   "ssh.public_key_algorithms",
				Message: "algorithm names cannot be empty",
			})
			break
		}
	}

	return errors
}
