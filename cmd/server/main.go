package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"townlife.ai/internal/persistence/indexdb"
	persistlog "townlife.ai/internal/persistence/log"
	"townlife.ai/internal/sim/catalogs"
	"townlife.ai/internal/sim/schedule"
	"townlife.ai/internal/sim/tuning"
	"townlife.ai/internal/sim/world"
	"townlife.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		townID     = flag.String("town", "town_1", "town id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the activity-history index")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("tuning not found, using defaults", zap.String("path", tp))
			tune = tuning.Defaults()
		} else {
			logger.Fatal("load tuning", zap.Error(err))
		}
	}

	cats, err := catalogs.Load(*configDir, tune.FuzzyMinOverlap)
	if err != nil {
		logger.Fatal("load catalogs", zap.Error(err))
	}
	logger.Info("catalogs loaded",
		zap.Int("locations", cats.Locations.Len()),
		zap.Int("activities", len(cats.Activities.All())))

	layout, err := world.LoadLayout(filepath.Join(*configDir, "town.json"))
	if err != nil {
		logger.Fatal("load town layout", zap.Error(err))
	}

	book, err := schedule.Load(filepath.Join(*configDir, "schedules.json"), tune.DayTicks, logger)
	if err != nil {
		logger.Fatal("load schedules", zap.Error(err))
	}

	t, err := world.New(world.Config{ID: *townID, Tune: tune, Layout: layout}, cats, book, logger)
	if err != nil {
		logger.Fatal("create town", zap.Error(err))
	}

	townDir := filepath.Join(*dataDir, "towns", *townID)
	_ = os.MkdirAll(townDir, 0o755)

	tickLog := persistlog.NewTickLogger(townDir)
	defer func() { _ = tickLog.Close() }()
	t.SetTickLogger(tickLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(townDir, "index.db"), logger)
		if err != nil {
			logger.Fatal("open index", zap.Error(err))
		}
		defer func() { _ = idx.Close() }()
		t.SetHistorySink(idx)
	}

	wsServer := ws.NewServer(t, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe", wsServer.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(t.Metrics())
	})
	mux.HandleFunc("/v1/history", func(rw http.ResponseWriter, r *http.Request) {
		if idx == nil {
			http.Error(rw, "index disabled", http.StatusServiceUnavailable)
			return
		}
		agent := r.URL.Query().Get("agent")
		if agent == "" {
			http.Error(rw, "missing agent", http.StatusBadRequest)
			return
		}
		recs, err := idx.RecentByAgent(r.Context(), agent, 50)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(recs)
	})

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.String("town", *townID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			cancel()
		}
	}()

	runErr := t.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("town loop", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
