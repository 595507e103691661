// Package transport provides the byte-stream channel the session state
// machine drives. Only this package touches real sockets.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// Conn is a duplex byte stream to a cluster server. Receive may deliver
// partial or multiple lines per read; line reassembly is the reader's job.
type Conn interface {
	io.ReadWriteCloser
}

// Dialer opens a Conn to a "host:port" address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// TCPDialer dials plain TCP with keepalive probing enabled so half-open
// connections surface as read errors instead of hanging forever.
type TCPDialer struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewTCPDialer returns a dialer with a 30 second connect timeout.
func NewTCPDialer(logger *zap.Logger) *TCPDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPDialer{Timeout: 30 * time.Second, Logger: logger}
}

// Dial connects to addr and tunes the socket for an interactive session.
func (d *TCPDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAlive(true); err != nil {
			d.Logger.Warn("failed to enable TCP keepalive", zap.String("addr", addr), zap.Error(err))
		}
		if err := tcp.SetKeepAlivePeriod(30 * time.Second); err != nil {
			d.Logger.Warn("failed to set TCP keepalive period", zap.String("addr", addr), zap.Error(err))
		}
		if err := tcp.SetNoDelay(true); err != nil {
			d.Logger.Warn("failed to set TCP no-delay", zap.String("addr", addr), zap.Error(err))
		}
	}
	return conn, nil
}
