package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// peer accepts exactly one connection on a loopback listener.
func peer(t *testing.T) (host string, port int, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		ch <- conn
	}()

	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, portNum, ch
}

func waitStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s (err=%v)", c.Status(), want, c.Err())
}

func collect(t *testing.T, c *Conn, n int) [][]byte {
	t.Helper()
	var got [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		got = append(got, c.Poll()...)
		time.Sleep(2 * time.Millisecond)
	}
	require.Len(t, got, n)
	return got
}

func acceptOne(t *testing.T, ch <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn, ok := <-ch:
		require.True(t, ok, "listener closed before accept")
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestConn_ConnectPollClose(t *testing.T) {
	host, port, accepted := peer(t)
	c := New(DefaultConfig())
	assert.Equal(t, StatusNone, c.Status())

	require.NoError(t, c.Connect(host, port))
	waitStatus(t, c, StatusConnected)
	server := acceptOne(t, accepted)
	assert.NotEmpty(t, c.SessionID().String())

	require.NoError(t, WriteFrame(server, []byte(`{"turn":1}`)))
	require.NoError(t, WriteFrame(server, []byte(`{"turn":2}`)))

	got := collect(t, c, 2)
	assert.Equal(t, `{"turn":1}`, string(got[0]))
	assert.Equal(t, `{"turn":2}`, string(got[1]))

	c.Close()
	assert.Equal(t, StatusNone, c.Status())
	assert.Nil(t, c.Poll())
}

func TestConn_SplitWritesReassemble(t *testing.T) {
	host, port, accepted := peer(t)
	c := New(DefaultConfig())
	require.NoError(t, c.Connect(host, port))
	waitStatus(t, c, StatusConnected)
	server := acceptOne(t, accepted)

	want := [][]byte{[]byte("alpha"), []byte("bravo-bravo"), []byte("c")}
	var stream []byte
	for _, p := range want {
		stream = AppendFrame(stream, p)
	}

	var got [][]byte
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		_, err := server.Write(stream[i:end])
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
		got = append(got, c.Poll()...)
	}
	got = append(got, collect(t, c, len(want)-len(got))...)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
	c.Close()
}

func TestConn_PeerCloseSurfacesThroughStatus(t *testing.T) {
	host, port, accepted := peer(t)
	c := New(DefaultConfig())
	require.NoError(t, c.Connect(host, port))
	waitStatus(t, c, StatusConnected)
	server := acceptOne(t, accepted)

	require.NoError(t, WriteFrame(server, []byte("last words")))
	server.Close()

	got := collect(t, c, 1)
	assert.Equal(t, "last words", string(got[0]))

	deadline := time.Now().Add(2 * time.Second)
	for c.Status() == StatusConnected && time.Now().Before(deadline) {
		c.Poll()
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, StatusError, c.Status())
	assert.ErrorIs(t, c.Err(), ErrDisconnected)
	assert.Empty(t, c.Poll(), "poll after disconnect returns nothing")
	c.Close()
}

func TestConn_OversizedFrameClosesStream(t *testing.T) {
	host, port, accepted := peer(t)
	cfg := DefaultConfig()
	cfg.MaxFrameSize = 64
	c := New(cfg)
	require.NoError(t, c.Connect(host, port))
	waitStatus(t, c, StatusConnected)
	server := acceptOne(t, accepted)

	_, err := server.Write(binary.LittleEndian.AppendUint32(nil, 1<<30))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for c.Status() == StatusConnected && time.Now().Before(deadline) {
		c.Poll()
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, StatusError, c.Status())
	assert.ErrorIs(t, c.Err(), ErrFrameTooLarge)
	assert.Zero(t, c.Buffered())
	c.Close()
}

func TestConn_CloseDiscardsPartialFrame(t *testing.T) {
	host, port, accepted := peer(t)
	c := New(DefaultConfig())
	require.NoError(t, c.Connect(host, port))
	waitStatus(t, c, StatusConnected)
	server := acceptOne(t, accepted)

	frame := AppendFrame(nil, []byte("never finished"))
	_, err := server.Write(frame[:8])
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for c.Buffered() < 8 && time.Now().Before(deadline) {
		require.Empty(t, c.Poll())
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 8, c.Buffered())

	c.Close()
	assert.Zero(t, c.Buffered())
}

func TestConn_DialFailure(t *testing.T) {
	refused := errors.New("connection refused")
	c := New(Config{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, refused
	}})

	require.NoError(t, c.Connect("127.0.0.1", 41000))
	waitStatus(t, c, StatusError)
	assert.ErrorIs(t, c.Err(), refused)
	assert.Nil(t, c.Poll())
	c.Close()
}

func TestConn_InvalidEndpoint(t *testing.T) {
	c := New(DefaultConfig())
	for _, tc := range []struct {
		host string
		port int
	}{
		{"", 41000},
		{"127.0.0.1", 0},
		{"127.0.0.1", 70000},
	} {
		err := c.Connect(tc.host, tc.port)
		require.ErrorIs(t, err, ErrInvalidEndpoint)
		assert.Equal(t, StatusError, c.Status())
	}
	c.Close()
}

func TestConn_CloseWhileDialing(t *testing.T) {
	release := make(chan struct{})
	c := New(Config{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}})

	require.NoError(t, c.Connect("127.0.0.1", 41000))
	assert.Equal(t, StatusConnecting, c.Status())
	c.Close()
	close(release)
	assert.Equal(t, StatusNone, c.Status())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "unknown", Status(42).String())
}
