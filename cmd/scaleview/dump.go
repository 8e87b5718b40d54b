package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/logstream"
	"github.com/talgya/shadowscale/internal/protocol"
	"github.com/talgya/shadowscale/internal/transport"
)

var (
	dumpChannel  string
	dumpCount    int
	dumpOut      string
	dumpCompress bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print a summary of every frame received on a channel",
	Long: `Connects to one channel and prints one line per frame. With --out the
frames are also recorded, length-prefixed, for later replay.`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpChannel, "channel", string(config.ChannelSnapshot), "Channel to read (snapshot or log)")
	dumpCmd.Flags().IntVarP(&dumpCount, "count", "n", 0, "Stop after this many frames (0 = until interrupted)")
	dumpCmd.Flags().StringVarP(&dumpOut, "out", "o", "", "Record frames to this file")
	dumpCmd.Flags().BoolVar(&dumpCompress, "zstd", false, "Compress recorded payloads with zstd")
}

func runDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch := config.Channel(dumpChannel)
	if ch != config.ChannelSnapshot && ch != config.ChannelLog {
		return fmt.Errorf("unsupported channel %q", dumpChannel)
	}

	var rec *bufio.Writer
	if dumpOut != "" {
		f, err := os.Create(dumpOut)
		if err != nil {
			return err
		}
		defer f.Close()
		rec = bufio.NewWriter(f)
		defer rec.Flush()
	}

	ctx, stop := background(cmd)
	defer stop()

	ep := cfg.Endpoint(ch)
	conn := transport.New(transport.Config{MaxFrameSize: cfg.MaxFrameSize})
	defer conn.Close()
	if err := conn.Connect(ep.Host, ep.Port); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, payload := range conn.Poll() {
			seen++
			describeFrame(out, ch, seen, payload)
			if rec != nil {
				if err := record(rec, payload); err != nil {
					return err
				}
			}
			if dumpCount > 0 && seen >= dumpCount {
				return nil
			}
		}
		if conn.Status() == transport.StatusError {
			return fmt.Errorf("%s: %w", ep, conn.Err())
		}
	}
}

func record(w io.Writer, payload []byte) error {
	if dumpCompress {
		packed, err := protocol.Compress(payload)
		if err != nil {
			return err
		}
		payload = packed
	}
	return transport.WriteFrame(w, payload)
}

func describeFrame(w io.Writer, ch config.Channel, n int, payload []byte) {
	if ch == config.ChannelLog {
		line, err := logstream.Parse(payload)
		if err != nil {
			fmt.Fprintf(w, "#%d %d bytes: %v\n", n, len(payload), err)
			return
		}
		fmt.Fprintf(w, "#%d %s %-5s %s: %s\n", n, line.Time().Format(time.TimeOnly), line.Level, line.Target, line.Message)
		return
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		fmt.Fprintf(w, "#%d %d bytes: %v\n", n, len(payload), err)
		return
	}
	turn, _ := msg.Turn.Get()
	fmt.Fprintf(w, "#%d %d bytes: %s turn=%d %s\n", n, len(payload), msg.Kind, turn, summarize(msg))
}

// summarize lists the entry counts of every present collection.
func summarize(msg *protocol.Message) string {
	var s string
	add := func(name string, n int, present bool) {
		if present {
			s += fmt.Sprintf(" %s=%d", name, n)
		}
	}
	add("tiles", len(msg.Tiles.Value), msg.Tiles.Present)
	add("influencers", len(msg.Influencers.Value), msg.Influencers.Present)
	add("trade_links", len(msg.TradeLinks.Value), msg.TradeLinks.Present)
	add("culture_layers", len(msg.CultureLayers.Value), msg.CultureLayers.Present)
	add("discovery", len(msg.DiscoveryProgress.Value), msg.DiscoveryProgress.Present)
	add("tile_updates", len(msg.TileUpdates.Value), msg.TileUpdates.Present)
	add("tile_removed", len(msg.TileRemoved.Value), msg.TileRemoved.Present)
	add("influencer_updates", len(msg.InfluencerUpdates.Value), msg.InfluencerUpdates.Present)
	add("influencer_removed", len(msg.InfluencerRemoved.Value), msg.InfluencerRemoved.Present)
	add("trade_link_updates", len(msg.TradeLinkUpdates.Value), msg.TradeLinkUpdates.Present)
	add("trade_link_removed", len(msg.TradeLinkRemoved.Value), msg.TradeLinkRemoved.Present)
	add("culture_layer_updates", len(msg.CultureLayerUpdates.Value), msg.CultureLayerUpdates.Present)
	add("culture_layer_removed", len(msg.CultureLayerRemoved.Value), msg.CultureLayerRemoved.Present)
	add("discovery_updates", len(msg.DiscoveryProgressUpdates.Value), msg.DiscoveryProgressUpdates.Present)
	add("tensions", len(msg.CultureTensions.Value), msg.CultureTensions.Present)
	add("rejected", len(msg.Rejected), len(msg.Rejected) > 0)
	if s == "" {
		return "(no collections)"
	}
	return s[1:]
}
