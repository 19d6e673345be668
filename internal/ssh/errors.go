package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/pkg/sftp"

	"github.com/yoanbernabeu/guestexec/internal/constants"
)

var (
	// ErrNotConnected is returned when an operation needs a live handle
	// and the session has none.
	ErrNotConnected = errors.New("not connected")

	// ErrMarkerNotFound is returned by Start when the remote command exits
	// without ever printing the awaited marker.
	ErrMarkerNotFound = errors.New("command exited before marker appeared")
)

// ConnectionError reports a missing connection parameter or a failed
// handshake. Connect never retries it.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("ssh connection failed: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ssh connection to %s failed: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FatalConnectionError is returned once every reconnect attempt failed.
type FatalConnectionError struct {
	Attempts int
	Err      error
}

func (e *FatalConnectionError) Error() string {
	return fmt.Sprintf("reconnect failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FatalConnectionError) Unwrap() error { return e.Err }

// TransportError marks a dropped connection observed around a file copy.
// Its message always carries constants.SocketClosedMessage.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, constants.SocketClosedMessage, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsSocketClosed reports whether err is the transient "socket closed"
// failure that warrants a reconnect. Only the message is inspected.
func IsSocketClosed(err error) bool {
	return err != nil && strings.Contains(err.Error(), constants.SocketClosedMessage)
}

// connectionLostFragments are error texts the ssh and sftp stacks produce
// when the underlying TCP connection went away.
var connectionLostFragments = []string{
	"broken pipe",
	"connection reset by peer",
	"closed network connection",
	"channel closed",
	"ssh: disconnect",
	"in response to channel open: <nil>",
	"EOF",
}

// isConnectionLost reports whether err means the transport is gone
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) {
		return true
	}
	msg := err.Error()
	for _, fragment := range connectionLostFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// classifyTransportError turns connection-loss errors into *TransportError
// and leaves every other error untouched.
func classifyTransportError(op string, err error) error {
	if err == nil || !isConnectionLost(err) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
