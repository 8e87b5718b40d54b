package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/transport"
)

var (
	replayFile     string
	replayInterval time.Duration
	replayLoop     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Serve frames recorded by dump on the snapshot port",
	Long: `Listens on the snapshot endpoint and streams a recording to every
client that connects, pausing between frames. Useful for driving the viewer
without a running simulation.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "Recording written by dump --out")
	replayCmd.Flags().DurationVar(&replayInterval, "interval", 500*time.Millisecond, "Pause between frames")
	replayCmd.Flags().BoolVar(&replayLoop, "loop", false, "Restart the recording when it ends")
	_ = replayCmd.MarkFlagRequired("file")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	frames, err := readRecording(replayFile, cfg.MaxFrameSize)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%s: no frames", replayFile)
	}

	ctx, stop := background(cmd)
	defer stop()

	ep := cfg.Endpoint(config.ChannelSnapshot)
	ln, err := net.Listen("tcp", net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("replaying", "file", replayFile, "frames", len(frames), "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveRecording(ctx, conn, frames)
	}
}

// readRecording splits a dump recording back into payloads.
func readRecording(path string, maxFrame int) ([][]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fb := transport.NewFrameBuffer(maxFrame)
	fb.Write(b)
	frames, err := fb.Drain()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if fb.Buffered() > 0 {
		slog.Warn("recording ends with a partial frame", "file", path, "bytes", fb.Buffered())
	}
	return frames, nil
}

func serveRecording(ctx context.Context, conn net.Conn, frames [][]byte) {
	defer conn.Close()
	slog.Info("viewer connected", "remote", conn.RemoteAddr().String())

	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()
	for {
		for i, f := range frames {
			if err := transport.WriteFrame(conn, f); err != nil {
				slog.Info("viewer disconnected", "remote", conn.RemoteAddr().String(), "sent", i, "error", err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if !replayLoop {
			slog.Info("recording finished", "remote", conn.RemoteAddr().String())
			<-ctx.Done()
			return
		}
	}
}
