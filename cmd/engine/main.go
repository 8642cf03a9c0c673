package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"main/internal/bus"
	"main/internal/engine"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "Per-session logout wait on shutdown")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profile.Enable {
		appName := loaded.Profile.AppName
		if appName == "" {
			appName = "fix-engine"
		}
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: appName,
			ServerAddress:   loaded.Profile.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	st, err := engine.BuildStore(loaded.Store)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logs.Errorf("engine: close store: %s", err)
		}
	}()

	var jr *journal.Journal
	if loaded.JournalEnabled {
		jr, err = journal.New(loaded.Journal)
		if err != nil {
			log.Fatalf("journal init failed: %v", err)
		}
		if err := jr.Start(ctx); err != nil {
			log.Fatalf("journal start failed: %v", err)
		}
		defer func() {
			if err := jr.Close(); err != nil {
				logs.Errorf("engine: close journal: %s", err)
			}
		}()
	}

	d := bus.NewDispatcher()
	defer d.Close()

	coord, err := engine.New(engine.Options{
		Sessions: loaded.Sessions,
		Store:    st,
		Bus:      d,
		Journal:  jr,
		Metrics:  obs.NewMetrics(),
	})
	if err != nil {
		log.Fatalf("coordinator init failed: %v", err)
	}
	if err := coord.Start(ctx); err != nil {
		log.Fatalf("coordinator start failed: %v", err)
	}

	if loaded.Admin.Enable {
		admin, err := engine.NewAdmin(loaded.Admin.Socket, coord)
		if err != nil {
			log.Fatalf("admin init failed: %v", err)
		}
		if err := admin.Start(ctx); err != nil {
			log.Fatalf("admin start failed: %v", err)
		}
		defer admin.Close()
	}

	logs.Infof("engine: running with %d sessions", len(loaded.Sessions))
	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
	}

	logs.Info("engine: shutting down")
	coord.Shutdown(*shutdownTimeout)
	stats := coord.Stats()
	logs.Infof("engine: done, %d in / %d out, %d logons, %d drops",
		stats.MessagesIn, stats.MessagesOut, stats.Logons, stats.BusDrops)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
