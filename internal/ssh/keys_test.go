package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/guestexec/internal/constants"
)

func TestValidateSSHKey_Plain(t *testing.T) {
	path := writeTestKey(t)

	info, err := ValidateSSHKey(path)

	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.Equal(t, "private_key", info.Name)
	assert.Equal(t, ssh.KeyAlgoED25519, info.Type)
	assert.False(t, info.IsEncrypted)
}

func TestValidateSSHKey_Encrypted(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte("secret"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))

	info, err := ValidateSSHKey(path)

	require.NoError(t, err)
	assert.True(t, info.IsEncrypted)
	assert.Equal(t, ssh.KeyAlgoED25519, info.Type)

	_, err = loadSigners(path, nil)
	assert.ErrorContains(t, err, "passphrase-protected")
}

func TestValidateSSHKey_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := ValidateSSHKey(path)
	assert.ErrorContains(t, err, "invalid SSH key")

	_, err = ValidateSSHKey(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "failed to read key file")
}

func TestCompatibleAlgorithms(t *testing.T) {
	tests := []struct {
		name       string
		keyType    string
		algorithms []string
		expected   []string
	}{
		{
			name:       "rsa keeps order",
			keyType:    ssh.KeyAlgoRSA,
			algorithms: []string{ssh.KeyAlgoRSA, ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256},
			expected:   []string{ssh.KeyAlgoRSA, ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256},
		},
		{
			name:       "rsa drops foreign and duplicate entries",
			keyType:    ssh.KeyAlgoRSA,
			algorithms: []string{ssh.KeyAlgoED25519, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSASHA256},
			expected:   []string{ssh.KeyAlgoRSASHA256},
		},
		{
			name:       "ed25519",
			keyType:    ssh.KeyAlgoED25519,
			algorithms: []string{ssh.KeyAlgoRSA, ssh.KeyAlgoED25519},
			expected:   []string{ssh.KeyAlgoED25519},
		},
		{
			name:       "nothing usable",
			keyType:    ssh.KeyAlgoED25519,
			algorithms: []string{ssh.KeyAlgoRSA},
			expected:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, compatibleAlgorithms(tt.keyType, tt.algorithms))
		})
	}
}

func TestPublicKeySigners_RSAKeepsOrder(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	signers, err := publicKeySigners(signer, []string{ssh.KeyAlgoRSA, ssh.KeyAlgoED25519, ssh.KeyAlgoRSASHA512})
	require.NoError(t, err)
	require.Len(t, signers, 2)

	var offered []string
	for _, s := range signers {
		multi, ok := s.(ssh.MultiAlgorithmSigner)
		require.True(t, ok)
		offered = append(offered, multi.Algorithms()...)
	}
	assert.Equal(t, []string{ssh.KeyAlgoRSA, ssh.KeyAlgoRSASHA512}, offered)
}

func TestPublicKeySigners_Unchanged(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	got, err := publicKeySigners(signer, nil)
	require.NoError(t, err)
	assert.Equal(t, []ssh.Signer{signer}, got)

	got, err = publicKeySigners(signer, []string{ssh.KeyAlgoRSA})
	require.NoError(t, err)
	assert.Equal(t, []ssh.Signer{signer}, got)
}

// recordingSigner notes every signature algorithm it is asked to use
type recordingSigner struct {
	ssh.AlgorithmSigner

	mu    sync.Mutex
	algos []string
}

func (r *recordingSigner) SignWithAlgorithm(rand io.Reader, data []byte, algorithm string) (*ssh.Signature, error) {
	r.mu.Lock()
	r.algos = append(r.algos, algorithm)
	r.mu.Unlock()
	return r.AlgorithmSigner.SignWithAlgorithm(rand, data, algorithm)
}

func (r *recordingSigner) used() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.algos...)
}

func TestPublicKeySigners_OfferedInConfiguredOrder(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	base, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	// a guest accepting every RSA variant, so only the client order decides
	server := newTestServer(t, guestShell, func(cfg *ssh.ServerConfig) {
		cfg.PublicKeyAuthAlgorithms = []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}
		cfg.PublicKeyCallback = func(_ ssh.ConnMetadata, pub ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(pub.Marshal(), base.PublicKey().Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("not authorized")
		}
	})
	addr := net.JoinHostPort(server.host, strconv.Itoa(server.port))

	tests := []struct {
		name       string
		algorithms []string
		expected   string
	}{
		{"legacy order offers ssh-rsa", constants.LegacyPublicKeyAlgorithms, ssh.KeyAlgoRSA},
		{"sha256 first", []string{ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA}, ssh.KeyAlgoRSASHA256},
		{"sha512 first", []string{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSA}, ssh.KeyAlgoRSASHA512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &recordingSigner{AlgorithmSigner: base.(ssh.AlgorithmSigner)}
			signers, err := publicKeySigners(recorder, tt.algorithms)
			require.NoError(t, err)

			client, err := dialContext(context.Background(), "tcp", addr, &ssh.ClientConfig{
				User:            "vagrant",
				Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
				HostKeyCallback: ssh.InsecureIgnoreHostKey(),
				Timeout:         5 * time.Second,
			})
			require.NoError(t, err)
			defer client.Close()

			assert.Equal(t, []string{tt.expected}, recorder.used())
		})
	}
}
