// Package server initializes and runs the application server: it opens the
// database, runs migrations, wires the identity, storage, pipeline and
// service layers and serves the REST surface until shut down.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibeapp/mediavault/internal/identity"
	"github.com/vibeapp/mediavault/internal/logging"
	"github.com/vibeapp/mediavault/internal/server/config"
	serverhttp "github.com/vibeapp/mediavault/internal/server/http"
	"github.com/vibeapp/mediavault/internal/server/pipeline"
	"github.com/vibeapp/mediavault/internal/server/repositories/repomanager"
	"github.com/vibeapp/mediavault/internal/server/services"
	"github.com/vibeapp/mediavault/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hasher := identity.NewHasher(&identity.SecretsManagerProvider{
		SecretID: cfg.NamespaceSecretID,
		Region:   cfg.S3Region,
	})

	var emitter pipeline.Emitter
	if cfg.SQSQueueURL != "" {
		emitter = pipeline.NewSQSEmitter(cfg)
	} else {
		logger.Warn(context.Background(), "no queue configured, pipeline handoff disabled")
		emitter = &pipeline.NoopEmitter{}
	}

	store := storage.NewS3Store(cfg)
	profileService := services.NewProfileService(db, repos, hasher, cfg, logger)
	mediaService := services.NewMediaService(db, repos, store, emitter, cfg, logger)

	router := serverhttp.NewRouter(cfg, profileService, mediaService)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		server: &http.Server{
			Addr:    cfg.EndpointAddr,
			Handler: router,
		},
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server error", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()

	app.logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err)
	}
}
