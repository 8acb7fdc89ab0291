package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/konorlevich/fileshelf/internal/file-service/blob"
	"github.com/konorlevich/fileshelf/internal/file-service/config"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
	"github.com/konorlevich/fileshelf/internal/file-service/handler"
	"github.com/konorlevich/fileshelf/internal/file-service/storage"
	"github.com/konorlevich/fileshelf/internal/file-service/taxonomy"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("can't load config")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.WithError(err).Fatal("can't create logger")
	}
	l := logger.WithFields(cfg.Fields())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer l.Println("got interruption signal")

	db, err := database.NewDb(cfg.DBFile, l, cfg.SQLDebug)
	if err != nil {
		l.WithError(err).Fatal("failed to open database")
	}
	blobs, err := blob.NewStorage(afero.NewOsFs(), cfg.UploadDir, l.WithField("component", "blob"))
	if err != nil {
		l.WithError(err).Fatal("failed to prepare upload dir")
	}
	observer, err := storage.NewPrometheusObserver("", nil)
	if err != nil {
		l.WithError(err).Fatal("failed to register metrics")
	}

	repo := database.NewRepository(db)
	files := storage.NewServer(
		repo,
		blobs,
		taxonomy.NewResolver(repo, l.WithField("component", "taxonomy")),
		l.WithField("component", "storage"),
		storage.WithObserver(observer),
	)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewHandler(files, cfg.MaxUploadBytes(), promhttp.Handler(), l.WithField("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Printf("listening to port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Fatal("listen and serve returned err")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			l.WithError(err).Error("handler shutdown returned an err")
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	<-ctx.Done()
}
