// Command feedrec records the live feed for a fleet of rooms into
// append-only kvlog segments. It discovers each room's hosts, connects
// over WebSocket or plain TCP, and persists every frame through one
// shared writer actor. A room whose configured id is negative is
// disabled and skipped at startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"livekit-feed/internal/archiver"
	"livekit-feed/internal/config"
	"livekit-feed/internal/discovery"
	"livekit-feed/internal/feed"
	"livekit-feed/internal/httpapi"
	"livekit-feed/internal/kvlog"
	"livekit-feed/internal/logging"
	"livekit-feed/internal/logwriter"
	"livekit-feed/internal/roomclient"
)

// cliFlags is the recorder's CLI surface: room list, storage path, and
// log path each take a short and a long form; --log-debug has no short
// form.
type cliFlags struct {
	rooms       string
	storagePath string
	logPath     string
	logDebug    bool
}

// parseFlags parses args against a fresh FlagSet rather than the global
// flag.CommandLine, so callers (main, and this package's tests) can
// parse an arbitrary argument slice without colliding with os.Args.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("feedrec", flag.ContinueOnError)
	var f cliFlags
	fs.StringVar(&f.rooms, "r", "", "comma-separated room ids, overrides FEED_ROOMS")
	fs.StringVar(&f.rooms, "roomid-list", "", "comma-separated room ids, overrides FEED_ROOMS")
	fs.StringVar(&f.storagePath, "s", "", "override FEED_STORAGE_PATH")
	fs.StringVar(&f.storagePath, "storage-path", "", "override FEED_STORAGE_PATH")
	fs.StringVar(&f.logPath, "l", "", "override FEED_LOG_PATH")
	fs.StringVar(&f.logPath, "log-path", "", "override FEED_LOG_PATH")
	fs.BoolVar(&f.logDebug, "log-debug", false, "force debug-level logging")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if flags.rooms != "" {
		cfg.Rooms = config.ParseRooms(flags.rooms)
	}
	if flags.storagePath != "" {
		cfg.StoragePath = flags.storagePath
	}
	if flags.logPath != "" {
		cfg.Logging.Path = flags.logPath
	}
	if flags.logDebug {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	rec, err := newRecorder(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize recorder", logging.Error(err))
	}
	defer rec.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := rec.buildOpsServer()
	go func() {
		logger.Info("ops server listening", logging.String("address", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server terminated", logging.Error(err))
		}
	}()

	go rec.archiver.Run(ctx, cfg.ArchiveInterval)
	rec.startRooms(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping room drivers")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	rec.wait()
	logger.Info("recorder stopped cleanly")
}

// recorder owns the shared writer actor, the per-room drivers, and the
// bookkeeping the ops HTTP surface reports on.
type recorder struct {
	cfg      *config.Config
	logger   *logging.Logger
	writer   *logwriter.Writer
	archiver *archiver.Archiver
	segment  string
	startup  time.Time

	drivers []*roomclient.Driver
	wg      sync.WaitGroup

	mu         sync.Mutex
	startupErr error
}

func newRecorder(cfg *config.Config, logger *logging.Logger) (*recorder, error) {
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("feedrec: create storage path: %w", err)
	}
	segment := filepath.Join(cfg.StoragePath, fmt.Sprintf("%d.kvlog", time.Now().Unix()))
	logConfig := kvlog.Config{Ident: "livekit-feed-raw", Sizes: kvlog.Sizes{Scope: feed.ScopeLength, Key: feed.KeyLength, Value: 0}}

	w, err := logwriter.Open(segment, logConfig)
	if err != nil {
		return nil, fmt.Errorf("feedrec: open segment: %w", err)
	}

	arch := archiver.New(archiver.Options{
		StorageDir:    cfg.StoragePath,
		GracePeriod:   0,
		ActiveSegment: func() string { return segment },
		Logger:        logger.With(logging.Component("archiver")),
	})

	rec := &recorder{
		cfg:      cfg,
		logger:   logger,
		writer:   w,
		archiver: arch,
		segment:  segment,
		startup:  time.Now(),
	}

	discoveryClient := discovery.New(http.DefaultClient, cfg.DiscoveryRPS, cfg.DiscoveryBurst)

	for _, raw := range cfg.Rooms {
		if raw < 0 {
			logger.Info("room disabled, skipping", logging.Room(raw))
			continue
		}
		room := feed.RoomID(raw)
		driver := roomclient.New(roomclient.Options{
			RoomID:            room,
			Discovery:         discoveryClient,
			Writer:            w.Room(room),
			Transport:         cfg.Transport,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReconnectBackoff:  cfg.ReconnectBackoff,
			InitBackoff:       cfg.InitBackoff,
			Logger:            logger,
		})
		rec.drivers = append(rec.drivers, driver)
	}

	if len(rec.drivers) == 0 {
		rec.startupErr = fmt.Errorf("feedrec: every configured room is disabled")
	}

	return rec, nil
}

// startRooms launches one goroutine per enabled driver, staggered by
// cfg.StartupStagger so the fleet does not open its discovery calls in
// the same instant.
func (r *recorder) startRooms(ctx context.Context) {
	for i, driver := range r.drivers {
		r.wg.Add(1)
		go func(i int, d *roomclient.Driver) {
			defer r.wg.Done()
			if i > 0 && r.cfg.StartupStagger > 0 {
				select {
				case <-time.After(time.Duration(i) * r.cfg.StartupStagger):
				case <-ctx.Done():
					return
				}
			}
			if err := d.Run(ctx); err != nil {
				r.logger.Error("room driver exited", logging.Room(int32(d.Snapshot().RoomID)), logging.Error(err))
			}
		}(i, driver)
	}
}

func (r *recorder) wait() {
	r.wg.Wait()
}

func (r *recorder) close() {
	if err := r.writer.Close(); err != nil {
		r.logger.Error("writer close failed", logging.Error(err))
	}
}

func (r *recorder) buildOpsServer() *http.Server {
	var rateLimiter httpapi.RateLimiter
	if r.cfg.ArchiveTriggerWindow > 0 && r.cfg.ArchiveTriggerBurst > 0 {
		rateLimiter = httpapi.NewSlidingWindowLimiter(r.cfg.ArchiveTriggerWindow, r.cfg.ArchiveTriggerBurst, nil)
	}

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      r.logger,
		Readiness:   r,
		Stats:       r.stats,
		Archiver:    r.archiver,
		AdminToken:  r.cfg.AdminToken,
		RateLimiter: rateLimiter,
	})

	mux := http.NewServeMux()
	handlers.Register(mux)
	return &http.Server{Addr: r.cfg.OpsAddr, Handler: logging.HTTPTraceMiddleware(r.logger)(mux)}
}

// RoomSnapshots implements httpapi.ReadinessProvider.
func (r *recorder) RoomSnapshots() []httpapi.RoomSnapshot {
	out := make([]httpapi.RoomSnapshot, 0, len(r.drivers))
	for _, d := range r.drivers {
		snap := d.Snapshot()
		lastErr := ""
		if snap.LastError != nil {
			lastErr = snap.LastError.Error()
		}
		out = append(out, httpapi.RoomSnapshot{
			RoomID:         snap.RoomID,
			State:          string(snap.State),
			ConnectedSince: snap.ConnectedSince,
			LastError:      lastErr,
			RowsWritten:    snap.RowsWritten,
		})
	}
	return out
}

// StartupError implements httpapi.ReadinessProvider.
func (r *recorder) StartupError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startupErr
}

// Uptime implements httpapi.ReadinessProvider.
func (r *recorder) Uptime() time.Duration {
	return time.Since(r.startup)
}

// stats implements httpapi.StatsFunc: cumulative rows and bytes across
// every room driver.
func (r *recorder) stats() (rowsWritten, bytesWritten uint64) {
	for _, d := range r.drivers {
		snap := d.Snapshot()
		rowsWritten += snap.RowsWritten
		bytesWritten += snap.BytesWritten
	}
	return rowsWritten, bytesWritten
}
