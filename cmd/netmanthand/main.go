// Command netmanthand is the download daemon: it owns the Download Manager,
// the Persistence Adapter, and the RPC listener that the netmanthan CLI (and
// the browser-extension bridge) talk to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"netmanthan/downloader"
	"netmanthan/internal/config"
	"netmanthan/internal/logging"
	"netmanthan/manager"
	"netmanthan/persistence"
	"netmanthan/rpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "netmanthand:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	home, _ := os.UserHomeDir()
	flag.StringVar(&configPath, "config", filepath.Join(home, ".netmanthan", "config.toml"), "path to the daemon's TOML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Init(cfg.LogLevel, cfg.LogPath); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	log := logging.Get()
	log.Info("netmanthand starting", zap.String("config", configPath), zap.String("rpc_address", cfg.RPC.Address))

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	store, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	transport, err := downloader.NewTransport(downloader.DefaultTransportConfig())
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	mgrCfg := manager.Config{
		AutoResume:           cfg.AutoResume,
		ConnectionsPerServer: int(cfg.ThreadCount),
		UpdateInterval:       time.Duration(cfg.UpdateIntervalMs) * time.Millisecond,
		BufferSizeBytes:      int(cfg.BufferSizeKB) * 1024,
		RetryCount:           3,
		DownloadDir:          cfg.DownloadDir,
	}
	mgr := manager.New(store, transport, mgrCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	toResume, err := mgr.LoadIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("loading incomplete downloads: %w", err)
	}
	log.Info("loaded incomplete downloads", zap.Int("count", len(toResume)))

	go mgr.Run(ctx)

	if len(toResume) > 0 {
		if err := mgr.ResumeDownloads(toResume); err != nil {
			log.Warn("auto-resuming downloads", zap.Error(err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.RPC.Address), 0o755); err != nil {
		return fmt.Errorf("creating rpc socket directory: %w", err)
	}
	os.Remove(cfg.RPC.Address)

	ln, err := net.Listen("unix", cfg.RPC.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.RPC.Address, err)
	}
	if cfg.RPC.AllowAllUsers {
		if err := os.Chmod(cfg.RPC.Address, 0o666); err != nil {
			log.Warn("relaxing rpc socket permissions", zap.Error(err))
		}
	}
	defer ln.Close()

	server := rpc.NewServer(mgr)
	log.Info("rpc listener ready", zap.String("address", cfg.RPC.Address))

	if err := server.Serve(ctx, ln); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	log.Info("netmanthand shut down cleanly")
	return nil
}
