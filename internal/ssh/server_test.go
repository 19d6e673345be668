package ssh

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execHandler plays the remote side of an exec request and returns its
// exit status. Signal names sent by the client arrive on signals.
type execHandler func(command string, stdout, stderr io.Writer, signals <-chan string) uint32

// testServer is an in-process SSH server with exec, signal and sftp support
type testServer struct {
	t        *testing.T
	listener net.Listener
	config   *ssh.ServerConfig
	handler  execHandler

	host    string
	port    int
	keyFile string

	mu       sync.Mutex
	conns    []*ssh.ServerConn
	commands []string
	signals  []string
}

// testVM is a VMDescriptor with plain fields
type testVM struct {
	host    string
	port    int
	user    string
	keyFile string
}

func (v testVM) Hostname() string { return v.host }
func (v testVM) Port() int        { return v.port }
func (v testVM) User() string     { return v.user }
func (v testVM) KeyFile() string  { return v.keyFile }

func newTestServer(t *testing.T, handler execHandler, configure ...func(*ssh.ServerConfig)) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	_, clientKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyFile := writeKeyFile(t, clientKey)
	clientSigner, err := ssh.NewSignerFromKey(clientKey)
	require.NoError(t, err)

	s := &testServer{t: t, handler: handler, keyFile: keyFile}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientSigner.PublicKey().Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("not authorized")
		},
	}
	s.config.AddHostKey(hostSigner)
	for _, fn := range configure {
		fn(s.config)
	}

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := s.listener.Addr().(*net.TCPAddr)
	s.host, s.port = addr.IP.String(), addr.Port

	go s.serve()
	t.Cleanup(func() {
		s.listener.Close()
		s.dropConnections()
	})

	return s
}

func (s *testServer) vm() testVM {
	return testVM{host: s.host, port: s.port, user: "vagrant", keyFile: s.keyFile}
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(nc net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, sconn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	signals := make(chan string, 4)

	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			go func() {
				status := s.handler(payload.Command, ch, ch.Stderr(), signals)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}()

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					ch.Close()
					return
				}
				_ = server.Serve()
				server.Close()
			}()

		case "signal":
			var payload struct{ Signal string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				continue
			}
			s.mu.Lock()
			s.signals = append(s.signals, payload.Signal)
			s.mu.Unlock()
			select {
			case signals <- payload.Signal:
			default:
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// dropConnections closes every server-side connection
func (s *testServer) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *testServer) receivedSignals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

func (s *testServer) receivedCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// writeKeyFile stores key as an unencrypted OpenSSH private key file
func writeKeyFile(t *testing.T, key crypto.PrivateKey) string {
	t.Helper()

	block, err := ssh.MarshalPrivateKey(key, "test@guestexec")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "private_key")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

// waitForSignal blocks until a signal arrives or d elapses
func waitForSignal(signals <-chan string, d time.Duration) (string, bool) {
	select {
	case sig := <-signals:
		return sig, true
	case <-time.After(d):
		return "", false
	}
}

// guestShell is the scripted guest used by most tests
func guestShell(command string, stdout, stderr io.Writer, signals <-chan string) uint32 {
	switch command {
	case "echo ok":
		io.WriteString(stdout, "ok\n")
		return 0
	case "both":
		io.WriteString(stdout, "out\n")
		io.WriteString(stderr, "err\n")
		return 0
	case "stderr-only":
		io.WriteString(stderr, "warn\n")
		return 0
	case "fail":
		io.WriteString(stdout, "partial\n")
		return 3
	case "silent":
		return 0
	case "tail -f log":
		io.WriteString(stdout, "starting\n")
		time.Sleep(30 * time.Millisecond)
		io.WriteString(stdout, "READY\n")
		time.Sleep(30 * time.Millisecond)
		io.WriteString(stdout, "after\n")
		if sig, ok := waitForSignal(signals, 5*time.Second); ok {
			io.WriteString(stdout, "got "+sig+"\n")
			return 143
		}
		return 0
	case "stderr-marker":
		io.WriteString(stderr, "booting\n")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(stderr, "listening READY on stderr\n")
		waitForSignal(signals, 5*time.Second)
		return 0
	case "no-marker":
		io.WriteString(stdout, "one\n")
		io.WriteString(stdout, "two")
		return 0
	case "login-prompt":
		io.WriteString(stdout, "booting\n")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(stdout, "login: ")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(stdout, "REA")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(stdout, "DY")
		if _, ok := waitForSignal(signals, 5*time.Second); ok {
			return 130
		}
		return 0
	case "wait-signal":
		if _, ok := waitForSignal(signals, 5*time.Second); ok {
			return 130
		}
		return 0
	default:
		io.WriteString(stderr, "sh: "+command+": not found\n")
		return 127
	}
}
