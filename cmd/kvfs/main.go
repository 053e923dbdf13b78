package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"kvfs/internal/config"
	"kvfs/internal/fs"
	"kvfs/internal/inode"
	"kvfs/internal/logging"
	"kvfs/internal/snapshot"
	"kvfs/internal/state"
	"kvfs/internal/store"
	"kvfs/internal/tracing"

	"github.com/spf13/pflag"
)

var (
	logger = logging.GetLogger()
)

const usage = "Usage: kvfs [flags] <mountpoint> <store>\n\n" +
	"<store> is a connection string such as redis://localhost:6379/0,\n" +
	"unix:///run/redis.sock, consul://localhost:8500 or a bare host:port.\n\nFlags:\n"

func main() {
	cfg, verbose, err := loadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger.Error("%v", err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err := configureLogging(logger, cfg, verbose); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}

// loadConfig builds the configuration from the config file, the
// environment, flags and the two positional arguments, in that order.
func loadConfig(args []string) (*config.Config, bool, error) {
	flags := pflag.NewFlagSet("kvfs", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	configPath := flags.String("config", os.Getenv("KVFS_CONFIG"), "YAML configuration file")
	verbose := flags.BoolP("verbose", "v", false, "Enable verbose logging")
	readOnly := flags.Bool("read-only", false, "Reject writes with EROFS")
	allowOther := flags.Bool("allow-other", false, "Allow other users to access the mount")
	ttl := flags.Duration("ttl", config.DefaultEntryTTL, "Validity of lookups and attributes")
	refresh := flags.Duration("refresh", config.DefaultRefreshInterval, "Maximum snapshot age, 0 to rebuild per request")
	stateFile := flags.String("state", "", "Persist the identifier table to this file")
	concurrency := flags.Int("concurrency", config.DefaultConcurrency, "Parallel store requests per snapshot build")
	enableTracing := flags.Bool("tracing", false, "Export traces over OTLP/gRPC")

	if err := flags.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, false, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, false, err
	}

	if flags.Changed("read-only") {
		cfg.ReadOnly = *readOnly
	}
	if flags.Changed("allow-other") {
		cfg.AllowOther = *allowOther
	}
	if flags.Changed("ttl") {
		cfg.EntryTTL = *ttl
	}
	if flags.Changed("refresh") {
		cfg.RefreshInterval = *refresh
	}
	if flags.Changed("state") {
		cfg.StateFile = *stateFile
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = *concurrency
	}
	if flags.Changed("tracing") {
		cfg.Tracing.Enabled = *enableTracing
	}

	switch pos := flags.Args(); len(pos) {
	case 0:
	case 1:
		cfg.Mountpoint = pos[0]
	case 2:
		cfg.Mountpoint, cfg.Store = pos[0], pos[1]
	default:
		return nil, false, fmt.Errorf("unexpected arguments: %v", pos[2:])
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	cfg.Mountpoint = filepath.Clean(cfg.Mountpoint)

	return cfg, *verbose, nil
}

func configureLogging(l *logging.Logger, cfg *config.Config, verbose bool) error {
	if cfg.Log.Level != "" {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		l.SetLevel(level)
	}
	if verbose && l.Level() < logging.LevelDebug {
		l.SetLevel(logging.LevelDebug)
	}
	if cfg.Log.Format == "json" {
		l.SetJSON(true)
	}
	return nil
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	logger.Info("Starting kvfs...")
	logger.Debug("Mount point: %s", cfg.Mountpoint)
	logger.Debug("Store: %s", cfg.Store)

	var kv store.Store
	conn, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("Failed to close store: %v", err)
		}
	}()
	kv = conn

	if cfg.Tracing.Enabled {
		tp, shutdown, err := tracing.Init(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.Warn("%v", err)
			}
		}()
		kv = store.WithTracing(conn, tp)
	}

	var idOpts []inode.Option
	if cfg.StateFile != "" {
		logger.Info("Initializing state manager...")
		manager, err := state.NewManager(cfg.StateFile)
		if err != nil {
			return fmt.Errorf("failed to initialize state manager: %w", err)
		}
		idOpts = append(idOpts, inode.WithTable(manager))
	}
	ids, err := inode.New(idOpts...)
	if err != nil {
		return fmt.Errorf("failed to load identifiers: %w", err)
	}

	cache := snapshot.NewCache(snapshot.NewBuilder(kv, ids, cfg.Concurrency), cfg.RefreshInterval)

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	snap, err := cache.Warm(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	logger.Info("Store holds %d simple values", snap.Len())

	kfs := fs.New(kv, cache, fs.Options{
		EntryTTL:   cfg.EntryTTL,
		ReadOnly:   cfg.ReadOnly,
		UID:        cfg.Owner.UID,
		GID:        cfg.Owner.GID,
		AllowOther: cfg.AllowOther,
	})

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Mounting filesystem...")
	if err := kfs.Mount(cfg.Mountpoint); err != nil {
		return err
	}
	defer kfs.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	var serveErr error
	logger.Debug("Starting FUSE server...")
	go func() {
		defer wg.Done()
		logger.Info("Serving filesystem...")
		serveErr = kfs.Serve()
		logger.Debug("FUSE server stopped")
	}()

	logger.Info("Filesystem mounted and ready")

	// Wait for signal
	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := kfs.Unmount(cfg.Mountpoint); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	wg.Wait()
	return serveErr
}
