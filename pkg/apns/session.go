package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"
)

// DefaultProbeWindow is how long Send waits for an error response when
// SessionOptions.ProbeWindow is zero.
const DefaultProbeWindow = 150 * time.Millisecond

// SessionState tracks a session through its single use.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionOptions bound the blocking steps of a session. Zero values leave
// the step bounded only by the context passed to Connect.
type SessionOptions struct {
	// DialTimeout bounds TCP connect plus TLS handshake.
	DialTimeout time.Duration
	// WriteTimeout bounds writing the frame.
	WriteTimeout time.Duration
	// ProbeWindow is how long Send waits for an error response after the
	// frame is written. A reply arriving later is never seen, so a
	// successful Send only means no rejection arrived within this window.
	// Zero means DefaultProbeWindow.
	ProbeWindow time.Duration
	// Logger receives debug output. Nil discards it.
	Logger *slog.Logger
}

func (o SessionOptions) probeWindow() time.Duration {
	if o.ProbeWindow <= 0 {
		return DefaultProbeWindow
	}
	return o.ProbeWindow
}

func (o SessionOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Session carries exactly one frame to the gateway over its own TLS
// connection. It is not safe for concurrent use; concurrent sends need
// separate sessions.
type Session struct {
	opts   SessionOptions
	logger *slog.Logger
	conn   net.Conn
	state  SessionState
}

// NewSession returns a disconnected session.
func NewSession(opts SessionOptions) *Session {
	return &Session{opts: opts, logger: opts.logger()}
}

// Dial creates a session and connects it to addr.
func Dial(ctx context.Context, addr string, creds *Credentials, opts SessionOptions) (*Session, error) {
	s := NewSession(opts)
	if err := s.Connect(ctx, addr, creds); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect opens a TCP connection to addr and completes a TLS handshake
// presenting creds. On failure the session stays disconnected and nothing
// is left open.
func (s *Session) Connect(ctx context.Context, addr string, creds *Credentials) error {
	if s.state != StateDisconnected {
		return fmt.Errorf("%w: connect in state %s", ErrSessionState, s.state)
	}
	conn, err := dialTLS(ctx, addr, creds, s.opts.DialTimeout)
	if err != nil {
		return err
	}
	s.logger.Debug("Connected to gateway", "addr", addr, "tls_version", tls.VersionName(conn.ConnectionState().Version))
	s.conn = conn
	s.state = StateConnected
	return nil
}

// Send writes frame, then waits up to the probe window for an error
// response. It returns frame.ID when no rejection arrived, or a
// *GatewayError when the gateway rejected the frame. The connection is
// closed before Send returns, whatever the outcome.
func (s *Session) Send(frame Frame) (uint32, error) {
	if s.state != StateConnected {
		return 0, fmt.Errorf("%w: send in state %s", ErrSessionState, s.state)
	}
	defer s.Close()

	if s.opts.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	// tls.Conn emits a record per Write, so a returned Write is flushed.
	if _, err := s.conn.Write(frame.Bytes); err != nil {
		return 0, fmt.Errorf("%w: write frame: %w", ErrIO, err)
	}

	window := s.opts.probeWindow()
	if err := s.conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	var reply [ErrorResponseSize]byte
	n, err := io.ReadFull(s.conn, reply[:])
	switch {
	case err == nil:
		resp, err := DecodeErrorResponse(reply[:])
		if err != nil {
			return 0, err
		}
		if err := resp.Err(); err != nil {
			s.logger.Debug("Gateway rejected notification", "id", resp.NotificationID, "status", resp.Status.String())
			return 0, err
		}
		return frame.ID, nil
	case isTimeout(err), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.logger.Debug("No error response within probe window", "id", frame.ID, "window", window, "bytes", n)
		return frame.ID, nil
	default:
		return 0, fmt.Errorf("%w: read error response: %w", ErrIO, err)
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.state != StateConnected {
		s.state = StateClosed
		return nil
	}
	s.state = StateClosed
	return s.conn.Close()
}

// State reports where the session is in its lifecycle.
func (s *Session) State() SessionState { return s.state }

func dialTLS(ctx context.Context, addr string, creds *Credentials, timeout time.Duration) (*tls.Conn, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials", ErrHandshakeFailed)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	conn := tls.Client(raw, creds.TLSConfig(host))
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return conn, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
