package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pandit/internal/api"
	"firestige.xyz/pandit/internal/config"
	logpkg "firestige.xyz/pandit/internal/log"
	"firestige.xyz/pandit/internal/task"
)

const shutdownTimeout = 10 * time.Second

// overrides holds command-line settings applied on top of the config file.
type overrides struct {
	iface   string
	read    string
	port    int
	workers int
}

var runFlags overrides

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and parse HTTP responses until interrupted",
	Long: `Run a capture task in the foreground.

The task reads frames from an interface (AF_PACKET) or a pcap file, parses
HTTP/1.x responses sent from the monitored port and keeps their headers
until the flow expires. It stops on SIGINT/SIGTERM, or at end of file when
reading a capture.

Examples:
  pandit run --interface eth0 --port 8000
  pandit run -c /etc/pandit/config.yml --workers 4
  pandit run --read responses.pcap`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := runFlags.apply(cfg); err != nil {
			return err
		}
		return runTask(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.iface, "interface", "i", "", "capture from this interface")
	runCmd.Flags().StringVarP(&runFlags.read, "read", "r", "", "read frames from a pcap or pcapng file")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "monitored HTTP server port")
	runCmd.Flags().IntVarP(&runFlags.workers, "workers", "w", 0, "number of parsing pipelines")
	runCmd.MarkFlagsMutuallyExclusive("interface", "read")
}

func (o overrides) apply(cfg *config.Config) error {
	switch {
	case o.iface != "":
		cfg.Capture.Type = "afpacket"
		cfg.Capture.Interface = o.iface
	case o.read != "":
		cfg.Capture.Type = "pcap"
		cfg.Capture.File = o.read
	}
	if o.port != 0 {
		cfg.HTTP.Port = o.port
	}
	if o.workers != 0 {
		cfg.Workers = o.workers
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runTask(ctx context.Context, cfg *config.Config) error {
	closer, err := logpkg.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer closer.Close()

	t, err := task.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build task: %w", err)
	}
	if err := t.Start(); err != nil {
		return err
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, t)
		if err := server.Start(ctx); err != nil {
			_ = t.Stop()
			return fmt.Errorf("failed to start api: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-t.Done():
		slog.Info("capture finished", "task_id", t.ID())
	}

	if err := t.Stop(); err != nil {
		slog.Error("task stop failed", "task_id", t.ID(), "error", err)
	}
	stats := t.Stats()
	slog.Info("task summary",
		"task_id", t.ID(),
		"received", stats.Capture.PacketsReceived,
		"dispatch_drops", stats.DispatchDrops,
		"flows", stats.FlowCacheSize,
		"header_entries", stats.HeaderEntries,
	)

	if server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			slog.Error("api stop failed", "error", err)
		}
	}
	return nil
}
