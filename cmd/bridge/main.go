package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tacbridge.ai/internal/bridge"
	"tacbridge.ai/internal/catalog"
	"tacbridge.ai/internal/config"
	"tacbridge.ai/internal/persistence/indexdb"
	"tacbridge.ai/internal/persistence/journal"
	"tacbridge.ai/internal/persistence/mirror"
	"tacbridge.ai/internal/sim/memworld"
	"tacbridge.ai/internal/transport"
	"tacbridge.ai/internal/transport/httpx"
	"tacbridge.ai/internal/transport/ws"
)

func main() {
	logger := log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.ParseBridge(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	cat, err := loadCatalog(cfg.Catalog, logger)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	tr, closeTransport, err := openTransport(cfg, logger)
	if err != nil {
		logger.Fatalf("transport: %v", err)
	}
	defer closeTransport()

	world := memworld.New(memworld.Options{MapName: cat.MapName})

	loopCfg := cfg.Loop()
	loopCfg.MapName = cat.MapName
	loopCfg.BroadcastTitle = cat.BroadcastTitle
	loopCfg.ReinforcementTemplate = cat.ReinforcementTemplate
	loopCfg.EventCapacity = cat.EventCapacity
	loopCfg.MaxReinforcements = cat.MaxReinforcements
	loopCfg.Templates = cat.Templates()
	b := bridge.New(loopCfg, world, tr, logger)

	_ = os.MkdirAll(cfg.DataDir, 0o755)
	tickLog := journal.NewTickLogger(cfg.DataDir)
	auditLog := journal.NewAuditLogger(cfg.DataDir)
	var mir *mirror.Mirror
	if s3 := cfg.Mirror.S3(); s3.Enabled() {
		client, err := mirror.NewS3Client(s3)
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		mir = mirror.New(client, mirror.Options{DataDir: cfg.DataDir, Prefix: cfg.Mirror.Prefix}, logger)
		tickLog.OnClose(mir.Enqueue)
		auditLog.OnClose(mir.Enqueue)
		logger.Printf("mirroring journals to %s/%s", s3.Endpoint, s3.Bucket)
	}
	// Journals close first so their last files reach the mirror queue.
	defer mir.Close()
	defer tickLog.Close()
	defer auditLog.Close()
	sinks := journal.Tee{
		Ticks:  []bridge.TickLogger{tickLog},
		Audits: []bridge.AuditLogger{auditLog},
	}
	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		idx, err = indexdb.OpenSQLite(cfg.IndexPath())
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		sinks.Ticks = append(sinks.Ticks, idx)
		sinks.Audits = append(sinks.Audits, idx)
	}
	b.SetTickLogger(sinks)
	b.SetAuditLogger(sinks)

	if cfg.Catalog != "" {
		if _, err := os.Stat(cfg.Catalog); err == nil {
			go func() {
				err := catalog.Watch(ctx, cfg.Catalog, func(c catalog.Config) { b.Reconfigure(c.Settings()) }, logger)
				if err != nil {
					logger.Printf("catalog watch disabled: %v", err)
				}
			}()
		}
	}

	if cfg.Demo {
		go newDemo(world, b, logger).run(ctx, 500*time.Millisecond)
	}

	var srv *http.Server
	if strings.TrimSpace(cfg.Addr) != "" {
		srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           newOps(b, idx, mir, tickLog, auditLog, cfg.EnableAdminHTTP).mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("ops listening on %s", cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("ops server: %v", err)
			}
		}()
	}

	logger.Printf("session %s -> %s", b.SessionID(), cfg.ServiceURL)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("bridge stopped: %v", err)
	}

	if srv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}
	st := b.Status()
	logger.Printf("shutdown: tick %d, sent %d, applied %d", st.Tick, st.Counters.StatesSent, st.Counters.RepliesApplied)
}

func loadCatalog(path string, logger *log.Logger) (catalog.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Printf("catalog %s not found; using defaults", path)
			path = ""
		}
	}
	return catalog.Load(path)
}

func openTransport(cfg config.Bridge, logger *log.Logger) (transport.Transport, func(), error) {
	scheme, err := transport.Scheme(cfg.ServiceURL)
	if err != nil {
		return nil, nil, err
	}
	switch scheme {
	case "ws":
		c, err := ws.NewClient(cfg.ServiceURL, logger)
		if err != nil {
			return nil, nil, err
		}
		c.Start()
		return c, c.Close, nil
	default:
		c, err := httpx.New(httpx.Config{BaseURL: cfg.ServiceURL, Compress: cfg.CompressRequests})
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("posting to %s", c.URL())
		return c, func() {}, nil
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags]\n\nEnvironment TB_* variables set defaults; flags override them.\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
