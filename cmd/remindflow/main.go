package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"remindflow/internal/api"
	"remindflow/internal/deliver"
	"remindflow/internal/extract"
	"remindflow/internal/inbox"
	"remindflow/internal/ingest"
	"remindflow/internal/materialize"
	"remindflow/internal/notify"
	"remindflow/internal/schedule"
	"remindflow/internal/store"
	"remindflow/internal/worker"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP bind address")
		dbPath  = flag.String("db", "remindflow.db", "SQLite DB path")
		workers = flag.Int("workers", 4, "number of delivery goroutines")
		poll    = flag.Duration("poll", time.Second, "poll interval for due reminders")
		window  = flag.Duration("dedup-window", materialize.DefaultDedupWindow, "duplicate share suppression window")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	tasks := store.NewSQLite(db)
	jobs := store.NewJobQueue(db, 5)
	if n, err := jobs.RecoverStale(context.Background()); err == nil && n > 0 {
		log.Info().Int("recovered", n).Msg("recovered stale reminder jobs")
	}

	extractor := extract.New(extract.DefaultConfig())
	materializer := materialize.New(tasks, *window)
	scheduler := schedule.New(jobs)
	in := inbox.New(64)

	ctx, cancel := context.WithCancel(context.Background())

	// Delivery side: poll due jobs, re-check task state, notify.
	delivery := deliver.NewWorker(tasks, notify.NewConsole(log.Logger))
	pool := worker.NewPool(jobs, delivery, *workers, *poll)
	go pool.Run(ctx)

	// Intake side: inbox -> extract -> materialize -> schedule.
	pipeline := ingest.NewService(in, extractor, materializer, scheduler)
	go pipeline.Run(ctx)

	// Nightly cleanup of finished job rows.
	maint := cron.New()
	_, err = maint.AddFunc("0 3 * * *", func() {
		n, err := jobs.PurgeFinished(context.Background(), time.Now().AddDate(0, 0, -7))
		if err != nil {
			log.Error().Err(err).Msg("purge finished jobs")
			return
		}
		log.Info().Int("purged", n).Msg("purged finished jobs")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("register maintenance schedule")
	}
	maint.Start()

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(in, extractor, tasks, jobs, scheduler)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	maint.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
