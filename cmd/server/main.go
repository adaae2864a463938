package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dynacraft.ai/internal/diag"
	persistlog "dynacraft.ai/internal/persistence/log"
	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/spatial"
	"dynacraft.ai/internal/sim/tuning"
	"dynacraft.ai/internal/sim/world"
	"dynacraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		objectsDir = flag.String("objects", "", "object definition directory (default: <configs>/objects)")
		regionsR   = flag.Int("regions_radius", -1, "mark chunks within this radius of the origin as generated; -1 treats every chunk as generated")
		debug      = flag.Bool("debug", false, "log debug diagnostics")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	dlog := diag.New(logger, "server")
	if *debug {
		dlog.SetMinSeverity(diag.SeverityDebug)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *debug {
		tune.DebugSync = true
	}

	od := strings.TrimSpace(*objectsDir)
	if od == "" {
		od = filepath.Join(*configDir, "objects")
	}
	lib, err := defs.Open(od)
	if err != nil {
		logger.Fatalf("load definitions: %v", err)
	}
	logger.Printf("definitions: %v", lib.Names())

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	store, err := tagstore.Open(filepath.Join(worldDir, "objects.db"))
	if err != nil {
		logger.Fatalf("open object store: %v", err)
	}
	defer store.Close()
	journal := persistlog.NewJournal(worldDir)
	defer journal.Close()

	var regions *world.Regions
	if *regionsR >= 0 {
		regions = world.NewRegions()
	}

	cfg, err := world.ConfigFromTuning(*worldID, tune)
	if err != nil {
		logger.Fatalf("world config: %v", err)
	}
	w, err := world.New(cfg, world.Deps{
		Library: lib,
		Store:   store,
		Journal: journal,
		Regions: regions,
		Log:     dlog,
	})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	recs, err := store.List(ctx, "")
	if err != nil {
		logger.Fatalf("list objects: %v", err)
	}
	logger.Printf("restored %d/%d objects", w.Restore(recs), len(recs))

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	if regions != nil {
		go generateRegions(ctx, w, *regionsR)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, store, journal))

	if envBool("DC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, w)
	} else {
		logger.Printf("admin endpoints disabled (DC_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("DC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, ws.Options{
		ObserverQueue: tune.Transport.ObserverQueue,
		InteractRate:  tune.Transport.InteractRate,
		InteractBurst: tune.Transport.InteractBurst,
	}, dlog).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-worldDone
	w.Shutdown()
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := store.Flush(flushCtx); err != nil {
		logger.Printf("flush object store: %v", err)
	}
}

// generateRegions stands in for terrain generation: chunks around the origin
// become available one per tick, nearest ring first.
func generateRegions(ctx context.Context, w *world.World, radius int) {
	ticker := time.NewTicker(time.Second / time.Duration(w.TickRateHz()))
	defer ticker.Stop()
	seen := map[spatial.ChunkPos]bool{}
	for r := 0; r <= radius; r++ {
		for _, c := range world.Square(spatial.ChunkPos{}, r) {
			if seen[c] {
				continue
			}
			seen[c] = true
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.MarkRegionAvailable(c)
			}
		}
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
