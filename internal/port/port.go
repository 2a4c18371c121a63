// Package port hands out TCP ports for supervised dev servers.
package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Host is the interface dev servers are expected to bind and the proxy dials.
const Host = "127.0.0.1"

// maxTries bounds allocation attempts when the OS reports a transient failure.
const maxTries = 5

// ErrInvalidPort is returned for pinned ports outside 1-65535.
var ErrInvalidPort = errors.New("invalid port")

// Allocate asks the OS for a free TCP port. The port is bindable at the
// instant of return; another process may still take it before the child binds.
func Allocate(ctx context.Context) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	p, err := backoff.Retry(ctx, func() (int, error) {
		p, err := listenFree()
		if err != nil && !isTransient(err) {
			return 0, backoff.Permanent(err)
		}
		return p, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	return p, nil
}

// Resolve returns pinned when set, otherwise an allocated port.
func Resolve(ctx context.Context, pinned int) (int, error) {
	if pinned == 0 {
		return Allocate(ctx)
	}
	if pinned < 0 || pinned > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, pinned)
	}
	return pinned, nil
}

// Available reports whether port can be bound on Host right now.
func Available(port int) bool {
	l, err := net.Listen("tcp", Address(port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Address joins Host and port.
func Address(port int) string {
	return net.JoinHostPort(Host, strconv.Itoa(port))
}

func listenFree() (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}

// isTransient matches the errno values a busy host returns for ephemeral binds.
func isTransient(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
