// Command overlay-node runs the per-peer reliable datagram layer over a
// UDP or WebSocket transport. The split-file fetch package is not wired
// into this command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/duskweave/overlaynode/internal/clock"
	"github.com/duskweave/overlaynode/internal/config"
	"github.com/duskweave/overlaynode/internal/metrics"
	"github.com/duskweave/overlaynode/internal/session"
	"github.com/duskweave/overlaynode/internal/transport"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to config file")
	showVersion := flag.Bool("v", false, "print version and exit")
	listenOverride := flag.String("listen", "", "override the datagram listen address")
	transportOverride := flag.String("transport", "", "override transport.kind: udp/websocket")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *listenOverride != "" {
		cfg.Listen = *listenOverride
	}
	if *transportOverride != "" {
		cfg.Transport.Kind = *transportOverride
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sysClock := clock.System{}
	manager := session.NewManager(sysClock)
	defer manager.Close()

	tr, err := newTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transport error: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath)

		nodeMetrics := metrics.New()
		metricsServer.MustRegister(
			nodeMetrics.ActiveSessions,
			nodeMetrics.SessionsTotal,
			nodeMetrics.SessionsReaped,
			nodeMetrics.AckQueueDepth,
			nodeMetrics.ResendQueueDepth,
			nodeMetrics.Retransmits,
			nodeMetrics.SegmentsStarted,
			nodeMetrics.SegmentsDecoded,
			nodeMetrics.SegmentErrors,
			nodeMetrics.BlockFetches,
			nodeMetrics.HealsQueued,
			nodeMetrics.DecodeLatency,
			metrics.NewSessionCollector(manager),
		)
		metricsServer.Start()
		defer metricsServer.Stop()
	}

	go pumpInbound(ctx, tr, manager)

	printBanner(cfg, tr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	cancel()
}

func newTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "websocket":
		return transport.NewWSTransport(cfg.Listen, cfg.Transport.WSPath)
	default:
		return transport.NewUDPTransport(cfg.Listen)
	}
}

// pumpInbound feeds each received datagram's sequence number into its
// peer session, reading the first four payload bytes as a big-endian
// seq. Datagrams shorter than four bytes are ignored, and the rest of
// the payload is not parsed.
func pumpInbound(ctx context.Context, tr transport.Transport, manager *session.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dg, err := tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		addr := session.AddrString(dg.From.String())
		sess := manager.GetOrCreate(0, addr)
		if len(dg.Payload) >= 4 {
			seq := uint32(dg.Payload[0])<<24 | uint32(dg.Payload[1])<<16 | uint32(dg.Payload[2])<<8 | uint32(dg.Payload[3])
			sess.PacketReceived(seq)
		}
	}
}

func printVersion() {
	fmt.Printf("overlay-node v%s\n", Version)
	fmt.Printf("  build:  %s\n", BuildTime)
	fmt.Printf("  commit: %s\n", GitCommit)
	fmt.Printf("  go:     %s\n", runtime.Version())
	fmt.Printf("  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printBanner(cfg *config.Config, tr transport.Transport) {
	fmt.Printf("overlay-node listening on %s (%s)\n", tr.LocalAddr(), cfg.Transport.Kind)
	if cfg.Metrics.Enabled {
		fmt.Printf("metrics on %s%s, health on %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.Listen, cfg.Metrics.HealthPath)
	}
	fmt.Printf("started at %s\n", time.Now().Format(time.RFC3339))
}
