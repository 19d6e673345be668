package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validVM() VMConfig {
	return VMConfig{
		Host:         "192.168.56.10",
		SSHPort:      22,
		Login:        "vagrant",
		IdentityFile: "~/.vagrant.d/insecure_private_key",
	}
}

func TestValidateVMConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*VMConfig)
		wantField string
	}{
		{"valid config", func(*VMConfig) {}, ""},
		{"missing host", func(v *VMConfig) { v.Host = "" }, "host"},
		{"invalid host", func(v *VMConfig) { v.Host = "bad host" }, "host"},
		{"missing user", func(v *VMConfig) { v.Login = "" }, "user"},
		{"invalid user", func(v *VMConfig) { v.Login = "9lives" }, "user"},
		{"port zero", func(v *VMConfig) { v.SSHPort = 0 }, "port"},
		{"port too high", func(v *VMConfig) { v.SSHPort = 70000 }, "port"},
		{"missing key", func(v *VMConfig) { v.IdentityFile = "" }, "key_file"},
		{"unknown os", func(v *VMConfig) { v.OS = "plan9" }, "os"},
		{"windows os", func(v *VMConfig) { v.OS = "windows" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := validVM()
			tt.mutate(&vm)
			errs := ValidateVMConfig(&vm)
			if tt.wantField == "" {
				assert.False(t, errs.HasErrors(), "unexpected errors: %v", errs)
				return
			}
			if assert.True(t, errs.HasErrors()) {
				assert.Equal(t, tt.wantField, errs[0].Field)
			}
		})
	}
}

func TestValidateVMConfig_CollectsAllErrors(t *testing.T) {
	errs := ValidateVMConfig(&VMConfig{})
	assert.Len(t, errs, 4)
	assert.True(t, strings.Contains(errs.Error(), "host: VM host is required"))
	assert.True(t, strings.Contains(errs.Error(), "; "))
}

func TestValidateSSHSettings(t *testing.T) {
	tests := []struct {
		name       string
		settings   SSHSettings
		wantErrors bool
	}{
		{"defaults", DefaultSSHSettings(), false},
		{"zero value", SSHSettings{}, false},
		{"negative timeout", SSHSettings{Timeout: -time.Second}, true},
		{"negative retries", SSHSettings{ReconnectRetries: -1}, true},
		{"negative delay", SSHSettings{ReconnectDelay: -time.Second}, true},
		{"negative poll", SSHSettings{PollInterval: -time.Millisecond}, true},
		{"blank algorithm", SSHSettings{PublicKeyAlgorithms: []string{"ssh-rsa", " "}}, true},
		{"legacy algorithms", SSHSettings{PublicKeyAlgorithms: []string{"ssh-rsa", "rsa-sha2-256"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateSSHSettings(&tt.settings)
			assert.Equal(t, tt.wantErrors, errs.HasErrors(), "errors: %v", errs)
		})
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "", errs.Error())
	assert.False(t, errs.HasErrors())
}
