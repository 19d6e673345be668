package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yoanbernabeu/guestexec/internal/constants"
	"github.com/yoanbernabeu/guestexec/internal/logging"
)

// Default connection settings
const (
	DefaultTimeout      = constants.DefaultConnectTimeout
	DefaultMaxRetries   = constants.DefaultReconnectTries
	DefaultRetryDelay   = constants.DefaultReconnectDelay
	DefaultPollInterval = constants.DefaultPollInterval
)

// VMDescriptor supplies the parameters needed to reach a guest VM.
// An empty or zero value for any of them is a connection error.
type VMDescriptor interface {
	Hostname() string
	Port() int
	User() string
	KeyFile() string
}

// RetryPolicy controls Reconnect: how many connect attempts are made and
// how long to sleep between two of them.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DialFunc opens an SSH connection to addr.
type DialFunc func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

type clientOptions struct {
	logger              *slog.Logger
	timeout             time.Duration
	retry               RetryPolicy
	pollInterval        time.Duration
	publicKeyAlgorithms []string
	hostKeyAlgorithms   []string
	hostKeyCallback     ssh.HostKeyCallback
	knownHostsFile      string
	dial                DialFunc
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

// WithLogger sets the logger the session derives its named logger from
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithTimeout sets the TCP connect and handshake timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithRetries sets how many connect attempts Reconnect makes
func WithRetries(n int) ClientOption {
	return func(o *clientOptions) { o.retry.Attempts = n }
}

// WithRetryDelay sets the sleep between two reconnect attempts
func WithRetryDelay(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.retry.Delay = d }
}

// WithRetryPolicy sets both reconnect knobs at once
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(o *clientOptions) { o.retry = p }
}

// WithPollInterval sets how often Start checks for new output while
// waiting for a marker
func WithPollInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.pollInterval = d }
}

// WithPublicKeyAlgorithms sets the signature algorithms offered for public
// key authentication, most preferred first. Each one is tried in turn until
// the guest accepts it. Some guest images only accept ssh-rsa and reject
// the SHA-2 variants preferred by default.
func WithPublicKeyAlgorithms(algos []string) ClientOption {
	return func(o *clientOptions) { o.publicKeyAlgorithms = algos }
}

// WithHostKeyAlgorithms sets the accepted host key algorithms, in order
func WithHostKeyAlgorithms(algos []string) ClientOption {
	return func(o *clientOptions) { o.hostKeyAlgorithms = algos }
}

// WithHostKeyCallback overrides host key verification
func WithHostKeyCallback(cb ssh.HostKeyCallback) ClientOption {
	return func(o *clientOptions) { o.hostKeyCallback = cb }
}

// WithKnownHosts verifies host keys against a known_hosts file
func WithKnownHosts(path string) ClientOption {
	return func(o *clientOptions) { o.knownHostsFile = path }
}

// WithDialer replaces the function used to open connections
func WithDialer(dial DialFunc) ClientOption {
	return func(o *clientOptions) { o.dial = dial }
}

// Client is a session bound to one guest VM. It owns at most one live
// connection at a time and swaps it in place on Reconnect.
type Client struct {
	name   string
	id     string
	vm     VMDescriptor
	log    *slog.Logger
	opts   clientOptions
	copier fileCopier

	mu         sync.Mutex
	client     *ssh.Client
	generation uint64
}

// NewClient creates a session for the named VM. It does not connect.
func NewClient(name string, vm VMDescriptor, opts ...ClientOption) *Client {
	o := clientOptions{
		timeout:      DefaultTimeout,
		retry:        RetryPolicy{Attempts: DefaultMaxRetries, Delay: DefaultRetryDelay},
		pollInterval: DefaultPollInterval,
		dial:         dialContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}

	id := uuid.New().String()
	return &Client{
		name:   name,
		id:     id,
		vm:     vm,
		log:    logging.ForVM(o.logger, name).With(slog.String("session", id[:8])),
		opts:   o,
		copier: sftpCopier{},
	}
}

// Name returns the VM name the session is bound to
func (c *Client) Name() string {
	return c.name
}

// Connect establishes the SSH connection, replacing any existing one
func (c *Client) Connect(ctx context.Context) error {
	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if old := c.swap(client); old != nil {
		_ = old.Close()
	}
	return nil
}

// Reconnect drops the current connection and connects again, retrying
// according to the session's RetryPolicy. Every failed attempt is logged.
// When all attempts fail a *FatalConnectionError is returned.
func (c *Client) Reconnect(ctx context.Context) error {
	if old := c.swap(nil); old != nil {
		// the old transport is usually already dead
		_ = old.Close()
	}

	attempts := c.opts.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		attempt int
		lastErr error
	)
	operation := func() error {
		attempt++
		client, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.log.Warn("Reconnect attempt failed",
				"attempt", attempt, "max_attempts", attempts, "error", err)
			return err
		}
		c.swap(client)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.retry.Delay), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if attempt < attempts && ctx.Err() != nil {
			return fmt.Errorf("reconnect interrupted after %d attempts: %w", attempt, ctx.Err())
		}
		c.log.Error("Giving up reconnecting", "attempts", attempt)
		return &FatalConnectionError{Attempts: attempt, Err: lastErr}
	}

	c.log.Info("Reconnected", "attempts", attempt)
	return nil
}

// Close closes the SSH connection
func (c *Client) Close() error {
	if old := c.swap(nil); old != nil {
		return old.Close()
	}
	return nil
}

// IsConnected returns true if the session holds a connection
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Handle returns the live connection, or nil
func (c *Client) Handle() *ssh.Client {
	h, _ := c.handle()
	return h
}

// NewSession creates a new SSH session on the live connection
func (c *Client) NewSession() (*ssh.Session, error) {
	h, _ := c.handle()
	if h == nil {
		return nil, ErrNotConnected
	}
	return h.NewSession()
}

func (c *Client) handle() (*ssh.Client, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, c.generation
}

// swap installs client as the live handle and returns the previous one.
// Each installed handle starts a new generation.
func (c *Client) swap(client *ssh.Client) *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.client
	c.client = client
	if client != nil {
		c.generation++
	}
	return old
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// dial reads the descriptor and opens a new connection
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	if c.vm == nil {
		return nil, &ConnectionError{Op: "read VM descriptor", Err: fmt.Errorf("no VM descriptor")}
	}

	host, port, user, keyFile := c.vm.Hostname(), c.vm.Port(), c.vm.User(), c.vm.KeyFile()
	var missing []string
	if host == "" {
		missing = append(missing, "hostname")
	}
	if port == 0 {
		missing = append(missing, "port")
	}
	if user == "" {
		missing = append(missing, "username")
	}
	if keyFile == "" {
		missing = append(missing, "private key file")
	}
	if len(missing) > 0 {
		return nil, &ConnectionError{
			Op:  "read VM descriptor",
			Err: fmt.Errorf("missing %s", strings.Join(missing, ", ")),
		}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	signers, err := loadSigners(keyFile, c.opts.publicKeyAlgorithms)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "load private key", Err: err}
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "host key verification", Err: err}
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signers...),
		},
		HostKeyCallback:   hostKeyCallback,
		HostKeyAlgorithms: c.opts.hostKeyAlgorithms,
		Timeout:           c.opts.timeout,
	}

	c.log.Debug("Connecting over SSH", "addr", addr, "user", user)
	client, err := c.opts.dial(ctx, "tcp", addr, config)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "handshake", Err: err}
	}
	c.log.Info("Connected", "addr", addr)

	return client, nil
}

// hostKeyCallback returns the host key callback function.
// Guests are restored from snapshots and regenerate their host keys, so
// without an explicit callback or known_hosts file any key is accepted.
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.opts.hostKeyCallback != nil {
		return c.opts.hostKeyCallback, nil
	}

	if c.opts.knownHostsFile != "" {
		path, err := homedir.Expand(c.opts.knownHostsFile)
		if err != nil {
			return nil, err
		}
		callback, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read known_hosts: %w", err)
		}
		return callback, nil
	}

	return ssh.InsecureIgnoreHostKey(), nil
}

// dialContext is ssh.Dial with a cancellable TCP connect
func dialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
