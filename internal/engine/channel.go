package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/metrics"
	"github.com/talgya/shadowscale/internal/transport"
)

// Channel keeps one stream connected, reconnecting on a fixed timer while
// it is down.
type Channel struct {
	name     config.Channel
	endpoint config.Endpoint
	conn     *transport.Conn
	timer    *Timer
	status   transport.Status
	line     string
	frames   uint64
}

// ChannelInfo is a point-in-time view of a channel.
type ChannelInfo struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	Status    string `json:"status"`
	Line      string `json:"line"`
	Session   string `json:"session,omitempty"`
	Frames    uint64 `json:"frames"`
	Buffered  int    `json:"buffered"`
	LastError string `json:"last_error,omitempty"`
}

// NewChannel creates a disconnected channel. The first Poll connects.
func NewChannel(name config.Channel, ep config.Endpoint, tcfg transport.Config, reconnect time.Duration) *Channel {
	c := &Channel{
		name:     name,
		endpoint: ep,
		conn:     transport.New(tcfg),
		timer:    NewTimer(reconnect),
	}
	c.line = fmt.Sprintf("Waiting to connect to %s", ep)
	metrics.ConnectionStatus.WithLabelValues(string(name)).Set(float64(transport.StatusNone))
	return c
}

// Poll reconnects if the channel is down and the timer is due, then
// returns every complete frame received since the last call.
func (c *Channel) Poll(now time.Time) [][]byte {
	switch c.conn.Status() {
	case transport.StatusNone, transport.StatusError:
		if c.timer.Due(now) {
			metrics.ConnectAttempts.WithLabelValues(string(c.name)).Inc()
			if err := c.conn.Connect(c.endpoint.Host, c.endpoint.Port); err != nil {
				slog.Warn("invalid endpoint", "channel", c.name, "error", err)
			}
		}
	}

	frames := c.conn.Poll()
	c.observe()

	if n := len(frames); n > 0 {
		c.frames += uint64(n)
		label := string(c.name)
		metrics.FramesReceived.WithLabelValues(label).Add(float64(n))
		var size int
		for _, f := range frames {
			size += len(f)
		}
		metrics.FrameBytes.WithLabelValues(label).Add(float64(size))
	}
	return frames
}

func (c *Channel) observe() {
	st := c.conn.Status()
	if st == c.status {
		return
	}
	c.status = st
	metrics.ConnectionStatus.WithLabelValues(string(c.name)).Set(float64(st))

	switch st {
	case transport.StatusConnecting:
		c.line = fmt.Sprintf("Connecting to %s", c.endpoint)
	case transport.StatusConnected:
		c.line = fmt.Sprintf("Connected to %s", c.endpoint)
		slog.Info("channel up", "channel", c.name, "endpoint", c.endpoint.String())
	case transport.StatusError:
		c.line = fmt.Sprintf("Connection to %s failed: %v (retrying every %s)", c.endpoint, c.conn.Err(), c.timer.Interval())
		slog.Warn("channel down", "channel", c.name, "endpoint", c.endpoint.String(), "error", c.conn.Err())
	default:
		c.line = fmt.Sprintf("Disconnected from %s", c.endpoint)
	}
}

// Status returns the last observed connection status.
func (c *Channel) Status() transport.Status { return c.status }

// StatusLine returns a human-readable description of the channel state.
func (c *Channel) StatusLine() string { return c.line }

// SetReconnectInterval changes the reconnect cadence.
func (c *Channel) SetReconnectInterval(d time.Duration) {
	c.timer.SetInterval(d)
}

// Info returns a view of the channel for status reporting.
func (c *Channel) Info() ChannelInfo {
	info := ChannelInfo{
		Name:     string(c.name),
		Endpoint: c.endpoint.String(),
		Status:   c.status.String(),
		Line:     c.line,
		Frames:   c.frames,
		Buffered: c.conn.Buffered(),
	}
	if c.status != transport.StatusNone {
		info.Session = c.conn.SessionID().String()
	}
	if err := c.conn.Err(); err != nil {
		info.LastError = err.Error()
	}
	return info
}

// Close drops the connection.
func (c *Channel) Close() {
	c.conn.Close()
	c.observe()
}
