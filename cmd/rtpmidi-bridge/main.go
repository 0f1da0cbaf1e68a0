package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/laenzlinger/rtpmidi-bridge/internal/config"
	"github.com/laenzlinger/rtpmidi-bridge/internal/discovery"
	"github.com/laenzlinger/rtpmidi-bridge/internal/engine"
	"github.com/laenzlinger/rtpmidi-bridge/internal/metrics"
	"github.com/laenzlinger/rtpmidi-bridge/internal/midi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/sequencer"
	"github.com/laenzlinger/rtpmidi-bridge/internal/statusapi"
	"github.com/laenzlinger/rtpmidi-bridge/internal/taskqueue"
	"github.com/laenzlinger/rtpmidi-bridge/internal/transport"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "test" {
		runCodecSelfTest()
		return
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting rtpmidi-bridge",
		"control_port", cfg.ControlPort,
		"status_port", cfg.StatusPort,
		"name", cfg.LocalName,
		"mdns", cfg.EnableMDNS,
		"midi_device", cfg.MIDIDevice,
	)

	if err := run(cfg, logger); err != nil {
		slog.Error("rtpmidi-bridge stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("rtpmidi-bridge stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	driver, err := transport.NewDriver(cfg.ControlPort, logger)
	if err != nil {
		return fmt.Errorf("starting I/O driver: %w", err)
	}
	defer driver.Close()

	tasks := taskqueue.New(logger)

	var seq sequencer.Sequencer
	if cfg.MIDIDevice != "" {
		dev, err := sequencer.OpenFileDevice(cfg.MIDIDevice, logger)
		if err != nil {
			return fmt.Errorf("opening MIDI device %s: %w", cfg.MIDIDevice, err)
		}
		defer dev.Close()
		seq = dev
	}

	eng := engine.New(driver, tasks, seq, cfg.LocalName, logger)

	startTime := time.Now()
	collector := metrics.NewCollector(eng, eng.Counters, startTime)
	registerer := prometheus.NewRegistry()
	if err := registerer.Register(collector); err != nil {
		return fmt.Errorf("registering metrics collector: %w", err)
	}
	prometheus.DefaultRegisterer = registerer
	prometheus.DefaultGatherer = registerer

	statusSrv := statusapi.NewServer(eng, startTime)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
		Handler: statusSrv,
	}

	var mdns *discovery.MulticastListener
	if cfg.EnableMDNS {
		mdns, err = discovery.NewMulticastListener(logger)
		if err != nil {
			logger.Warn("mDNS discovery disabled, failed to join multicast group", "error", err)
			mdns = nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var g errgroup.Group

	g.Go(func() error {
		logger.Info("status server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	if mdns != nil {
		added := func(host string, port int) {
			tasks.Push(func() error { return eng.ConnectPeer(host, port) })
		}
		removed := func(host string, port int) {
			// Discovery can only ever add new outbound candidates; a peer
			// that disappears from mDNS keeps its session until it sends
			// BY or the bridge shuts down, not because of this callback.
		}
		if err := mdns.Start(added, removed); err != nil {
			logger.Warn("failed to start mDNS discovery", "error", err)
		} else {
			defer mdns.Stop()
		}
	}

	for _, peer := range cfg.Peers {
		host, port, err := splitHostPort(peer)
		if err != nil {
			logger.Error("skipping malformed peer", "peer", peer, "error", err)
			continue
		}
		tasks.Push(func() error { return eng.ConnectPeer(host, port) })
	}

	g.Go(func() error {
		err := eng.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", "error", err)
	}

	return runErr
}

func splitHostPort(peer string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(peer)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

// runCodecSelfTest exercises the MIDI codec against the same literal
// byte sequence the Python original's test() decodes, printing the
// decoded events and their re-encoding without opening any socket or
// standing up the full bridge.
func runCodecSelfTest() {
	sample := []byte{0x90, 10, 10, 0x80, 10, 0}
	events := midi.Decode(sample, slog.Default())
	fmt.Printf("decoded %d events from %d bytes:\n", len(events), len(sample))
	for _, ev := range events {
		fmt.Printf("  %s\n", describeEvent(ev))
	}

	reencoded := midi.Encode(events)
	fmt.Printf("re-encoded to %d bytes: % x\n", len(reencoded), reencoded)
}

func describeEvent(ev midi.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s channel=%d data1=%#02x data2=%#02x", ev.Kind, ev.Channel, ev.Data1, ev.Data2)
	return b.String()
}
