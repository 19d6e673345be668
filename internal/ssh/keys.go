package ssh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

// SSHKeyInfo contains information about an SSH key
type SSHKeyInfo struct {
	Path        string // Full path to the key file
	Name        string // Key filename (e.g., "private_key")
	Type        string // Public key algorithm (e.g., "ssh-ed25519", "ssh-rsa")
	IsEncrypted bool   // True if key is passphrase-protected
}

// ValidateSSHKey validates a key file and returns its info
func ValidateSSHKey(path string) (*SSHKeyInfo, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand key path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keyInfo := &SSHKeyInfo{
		Path: expanded,
		Name: filepath.Base(expanded),
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			keyInfo.IsEncrypted = true
			if missing.PublicKey != nil {
				keyInfo.Type = missing.PublicKey.Type()
			}
			return keyInfo, nil
		}
		return nil, fmt.Errorf("invalid SSH key: %w", err)
	}

	keyInfo.Type = signer.PublicKey().Type()
	return keyInfo, nil
}

// loadSigners reads a private key and returns the signers to offer for it,
// one per compatible algorithm in the given order.
func loadSigners(keyPath string, algorithms []string) ([]ssh.Signer, error) {
	path, err := homedir.Expand(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand key path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key %s is passphrase-protected", path)
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return publicKeySigners(signer, algorithms)
}

// publicKeySigners splits signer into single-algorithm signers following
// the order of algorithms. The client tries them one after the other, so
// the first algorithm the guest accepts wins. Algorithms the key cannot
// produce are skipped; if none remain the signer is used as is.
func publicKeySigners(signer ssh.Signer, algorithms []string) ([]ssh.Signer, error) {
	algSigner, ok := signer.(ssh.AlgorithmSigner)
	if !ok || len(algorithms) == 0 {
		return []ssh.Signer{signer}, nil
	}

	compatible := compatibleAlgorithms(signer.PublicKey().Type(), algorithms)
	if len(compatible) == 0 {
		return []ssh.Signer{signer}, nil
	}

	signers := make([]ssh.Signer, 0, len(compatible))
	for _, algo := range compatible {
		s, err := ssh.NewSignerWithAlgorithms(algSigner, []string{algo})
		if err != nil {
			return nil, fmt.Errorf("failed to apply public key algorithm %s: %w", algo, err)
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// compatibleAlgorithms filters algorithms down to those usable with keyType
func compatibleAlgorithms(keyType string, algorithms []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, algo := range algorithms {
		if seen[algo] {
			continue
		}
		usable := algo == keyType
		if keyType == ssh.KeyAlgoRSA {
			usable = algo == ssh.KeyAlgoRSA || algo == ssh.KeyAlgoRSASHA256 || algo == ssh.KeyAlgoRSASHA512
		}
		if usable {
			seen[algo] = true
			out = append(out, algo)
		}
	}
	return out
}
