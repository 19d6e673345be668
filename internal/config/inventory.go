package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/yoanbernabeu/guestexec/internal/constants"
)

// GetInventoryPath returns the path to the default inventory file
func GetInventoryPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, constants.ConfigDirName, constants.InventoryFileName), nil
}

// resolvePath expands ~ and falls back to the default inventory location
func resolvePath(path string) (string, error) {
	if path == "" {
		return GetInventoryPath()
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return expanded, nil
}

// LoadInventory loads the inventory from path, or from the default location
// when path is empty. A missing file yields an empty inventory.
func LoadInventory(path string) (*Inventory, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultInventory(), nil
		}
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	if inv.VMs == nil {
		inv.VMs = make(map[string]VMConfig)
	}
	inv.SSH = inv.SSH.withDefaults()

	for name, vm := range inv.VMs {
		inv.VMs[name] = inv.applyDefaults(vm)
	}

	return &inv, nil
}

// SaveInventory writes the inventory to path, or to the default location
func SaveInventory(path string, inv *Inventory) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}

	// SECURITY: the inventory points at private keys, keep it owner-only
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}

	return nil
}

// GetVM retrieves a VM descriptor by name
func (inv *Inventory) GetVM(name string) (*VMConfig, error) {
	vm, ok := inv.VMs[name]
	if !ok {
		return nil, fmt.Errorf("VM '%s' not found", name)
	}
	return &vm, nil
}

// AddVM adds a new VM to the inventory
func (inv *Inventory) AddVM(name string, vm VMConfig) error {
	if _, exists := inv.VMs[name]; exists {
		return fmt.Errorf("VM '%s' already exists", name)
	}

	vm = inv.applyDefaults(vm)
	if errs := ValidateVMConfig(&vm); errs.HasErrors() {
		return fmt.Errorf("invalid VM '%s': %w", name, errs)
	}

	if inv.VMs == nil {
		inv.VMs = make(map[string]VMConfig)
	}
	inv.VMs[name] = vm
	return nil
}

// RemoveVM removes a VM from the inventory
func (inv *Inventory) RemoveVM(name string) error {
	if _, exists := inv.VMs[name]; !exists {
		return fmt.Errorf("VM '%s' not found", name)
	}

	delete(inv.VMs, name)
	return nil
}

// ListVMs returns all VM names in sorted order
func (inv *Inventory) ListVMs() []string {
	names := make([]string, 0, len(inv.VMs))
	for name := range inv.VMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (inv *Inventory) applyDefaults(vm VMConfig) VMConfig {
	if vm.SSHPort == 0 {
		vm.SSHPort = inv.DefaultPort
		if vm.SSHPort == 0 {
			vm.SSHPort = constants.DefaultSSHPort
		}
	}
	if vm.Login == "" {
		vm.Login = inv.DefaultUser
	}
	if vm.OS == "" {
		vm.OS = "linux"
	}
	return vm
}
