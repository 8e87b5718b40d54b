package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the connection lifecycle state observed by the caller.
type Status uint8

const (
	StatusNone       Status = iota // Never connected, or closed by the caller
	StatusConnecting               // Dial in flight
	StatusConnected                // Stream established
	StatusError                    // Dial failed, peer dropped, or stream corrupt
)

var statusNames = [...]string{"none", "connecting", "connected", "error"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

var (
	// ErrInvalidEndpoint is returned by Connect for an empty host or a port
	// outside 1..65535.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrDisconnected wraps the read error that ended an established stream.
	ErrDisconnected = errors.New("disconnected")
)

// DialFunc opens the underlying stream. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds connection parameters.
type Config struct {
	MaxFrameSize   int           // Declared lengths above this close the stream
	DialTimeout    time.Duration // Upper bound on a single connect attempt
	ReadBufferSize int           // Size of each socket read
	Dial           DialFunc      // nil = net.Dialer
}

// DefaultConfig returns the settings used for every simulation channel.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:   DefaultMaxFrameSize,
		DialTimeout:    3 * time.Second,
		ReadBufferSize: 64 * 1024,
	}
}

type dialResult struct {
	conn net.Conn
	err  error
}

// session is one connect attempt and, if it succeeds, the stream behind it.
// Its goroutines only hand results to the owning Conn over channels.
type session struct {
	id     uuid.UUID
	addr   string
	cancel context.CancelFunc
	dialed chan dialResult
	chunks chan []byte
	failed chan error
	done   chan struct{}
	once   sync.Once
	conn   net.Conn
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Conn is a non-blocking framed client connection. All methods must be
// called from one goroutine; Poll never blocks and never panics.
type Conn struct {
	cfg    Config
	frames *FrameBuffer
	status Status
	err    error
	sess   *session
}

// New creates a disconnected Conn.
func New(cfg Config) *Conn {
	def := DefaultConfig()
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	return &Conn{
		cfg:    cfg,
		frames: NewFrameBuffer(cfg.MaxFrameSize),
	}
}

// Connect starts a connection attempt and returns immediately. The outcome
// is observed through Status. Any previous connection and its buffered
// partial frame are discarded.
func (c *Conn) Connect(host string, port int) error {
	if host == "" || port <= 0 || port > 65535 {
		err := fmt.Errorf("%w: %q:%d", ErrInvalidEndpoint, host, port)
		c.Close()
		c.status = StatusError
		c.err = err
		return err
	}
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	s := &session{
		id:     uuid.New(),
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		cancel: cancel,
		dialed: make(chan dialResult),
		chunks: make(chan []byte, 64),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}
	c.sess = s
	c.status = StatusConnecting
	c.err = nil

	dial := c.cfg.Dial
	go func() {
		conn, err := dial(ctx, "tcp", s.addr)
		select {
		case s.dialed <- dialResult{conn: conn, err: err}:
		case <-s.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()

	slog.Debug("connecting", "addr", s.addr, "session", s.id)
	return nil
}

// Status reports the connection state, first absorbing a finished dial.
func (c *Conn) Status() Status {
	c.advance()
	return c.status
}

// Err returns the error behind StatusError, or nil.
func (c *Conn) Err() error {
	return c.err
}

// Addr returns the host:port of the current or last attempt.
func (c *Conn) Addr() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.addr
}

// SessionID identifies the current connect attempt in logs.
func (c *Conn) SessionID() uuid.UUID {
	if c.sess == nil {
		return uuid.Nil
	}
	return c.sess.id
}

// Buffered returns the number of bytes held for an incomplete frame.
func (c *Conn) Buffered() int {
	return c.frames.Buffered()
}

// Poll drains all bytes received since the last call and returns every
// complete payload in arrival order. It returns nil when not connected or
// when nothing complete has arrived.
func (c *Conn) Poll() [][]byte {
	c.advance()
	if c.status != StatusConnected {
		return nil
	}
	s := c.sess

	c.drainChunks(s)
	var readErr error
	select {
	case readErr = <-s.failed:
		// Everything the reader delivered before failing is already queued.
		c.drainChunks(s)
	default:
	}

	frames, err := c.frames.Drain()
	if err != nil {
		slog.Warn("closing corrupt stream", "addr", s.addr, "session", s.id, "error", err)
		c.fail(err)
		return frames
	}
	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			readErr = io.ErrUnexpectedEOF
			if c.frames.Buffered() == 0 {
				readErr = io.EOF
			}
		}
		slog.Info("stream disconnected", "addr", s.addr, "session", s.id, "error", readErr)
		c.fail(fmt.Errorf("%w: %w", ErrDisconnected, readErr))
	}
	return frames
}

// Close closes the connection and discards any buffered partial frame.
func (c *Conn) Close() {
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	c.frames.Reset()
	c.status = StatusNone
	c.err = nil
}

func (c *Conn) advance() {
	if c.status != StatusConnecting || c.sess == nil {
		return
	}
	s := c.sess
	select {
	case res := <-s.dialed:
		if res.err != nil {
			slog.Debug("connect failed", "addr", s.addr, "session", s.id, "error", res.err)
			c.fail(res.err)
			return
		}
		s.conn = res.conn
		c.status = StatusConnected
		go s.read(res.conn, c.cfg.ReadBufferSize)
		slog.Info("stream connected", "addr", s.addr, "session", s.id)
	default:
	}
}

func (c *Conn) drainChunks(s *session) {
	for {
		select {
		case chunk := <-s.chunks:
			c.frames.Write(chunk)
		default:
			return
		}
	}
}

// fail tears down the session but keeps the error visible until the next
// Connect or Close.
func (c *Conn) fail(err error) {
	if c.sess != nil {
		c.sess.close()
	}
	c.frames.Reset()
	c.status = StatusError
	c.err = err
}

func (s *session) read(conn net.Conn, size int) {
	buf := make([]byte, size)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.failed <- err:
			case <-s.done:
			}
			return
		}
	}
}
