// Command ingest runs the async ingest worker. It consumes ingest requests
// from NATS and, with -dir, also loads text and markdown notes from a
// directory.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/secondbrain/brain/engine/backend"
	"github.com/secondbrain/brain/engine/ingest"
	"github.com/secondbrain/brain/pkg/config"
)

func main() {
	var (
		dataDir     = flag.String("dir", "", "directory of .txt/.md notes to ingest (optional)")
		stateFile   = flag.String("state", "", "processed files state (default <dir>/.ingest-state.json)")
		interval    = flag.Duration("interval", 30*time.Second, "directory scan interval")
		once        = flag.Bool("once", false, "scan the directory once and exit")
		metricsAddr = flag.String("metrics", ":9091", "metrics listen address, empty to disable")
	)
	flag.Parse()

	dotErr := config.LoadDotEnv()
	cfg, err := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)
	if dotErr != nil {
		log.Warn("dotenv file ignored", "err", dotErr)
	}
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := backend.Build(ctx, cfg, log)
	if err != nil {
		log.Error("backend setup failed", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	if *metricsAddr != "" && !*once {
		srv := &http.Server{Addr: *metricsAddr, Handler: stack.Registry.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	var w *dirWatcher
	if *dataDir != "" {
		if *stateFile == "" {
			*stateFile = defaultStatePath(*dataDir)
		}
		w = newDirWatcher(*dataDir, *stateFile, stack.Ingest, log)
		if *once {
			n, errs := w.Scan(ctx)
			log.Info("scan finished", "ingested", n, "errors", errs)
			if errs > 0 {
				os.Exit(1)
			}
			return
		}
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("brain-ingest"))
		if err != nil {
			log.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()

		consumer := ingest.NewConsumer(stack.Ingest, nc, ingest.ConsumerConfig{
			Subject:    cfg.IngestSubject,
			DLQSubject: cfg.DLQSubject,
			MaxRetries: cfg.MaxRetries,
		}, stack.Metrics, log)
		if _, err := consumer.Start(nc); err != nil {
			log.Error("subscribe failed", "err", err)
			os.Exit(1)
		}
		log.Info("consuming ingest requests", "subject", cfg.IngestSubject, "dlq", cfg.DLQSubject)
	} else if w == nil {
		log.Error("nothing to do: set NATS_URL or -dir")
		os.Exit(2)
	}

	if w != nil {
		log.Info("watching for notes", "dir", *dataDir, "interval", *interval)
		w.Run(ctx, *interval)
	} else {
		<-ctx.Done()
	}
	log.Info("shutting down")
}
