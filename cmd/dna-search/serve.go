package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dnasearch/internal/api/handlers"
	"github.com/bigkaa/dnasearch/internal/api/middleware"
	"github.com/bigkaa/dnasearch/internal/config"
	"github.com/bigkaa/dnasearch/internal/database"
	"github.com/bigkaa/dnasearch/internal/engine"
	"github.com/bigkaa/dnasearch/internal/repository"
	"github.com/bigkaa/dnasearch/internal/sequence"
	"github.com/bigkaa/dnasearch/internal/server"
	"github.com/bigkaa/dnasearch/internal/service"
	"github.com/bigkaa/dnasearch/internal/storage/filestore"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

// serve загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// собирает конвейер поиска и запускает HTTP-сервер с graceful shutdown.
func serve() error {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("DNA Search запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("DS_DEPHEALTH_GROUP") == "" {
		logger.Warn("DS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Миграции
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	// 4. PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := database.OpenDB(pool)
	defer pgDB.Close()

	// 5. Файловые хранилища: загрузки и входы движка
	uploads, err := filestore.New(cfg.UploadDir, "adn")
	if err != nil {
		return err
	}
	inputs, err := filestore.New(cfg.EngineWorkDir, "input")
	if err != nil {
		return err
	}
	logger.Info("Файловые хранилища готовы",
		slog.String("uploads", uploads.Dir()),
		slog.String("engine_inputs", inputs.Dir()),
	)

	// 6. Движок
	invoker, err := engine.NewProcessInvoker(engine.Options{
		Path:          cfg.EnginePath,
		WorkDir:       cfg.EngineWorkDir,
		Transport:     engine.Transport(cfg.EngineOutput),
		Timeout:       cfg.EngineTimeout,
		Cleanup:       cfg.EngineCleanup,
		MaxOutputSize: cfg.EngineMaxOutput,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("Движок поиска настроен",
		slog.String("path", cfg.EnginePath),
		slog.String("transport", cfg.EngineOutput),
		slog.Duration("timeout", cfg.EngineTimeout),
	)

	// 7. Репозиторий и сервисы
	store := repository.NewStore(pool)

	mode := sequence.Lenient
	if cfg.CSVStrict {
		mode = sequence.Strict
	}
	searchSvc := service.NewSearchService(store, invoker, uploads, inputs, service.SearchOptions{
		Mode:          mode,
		MaxUploadSize: cfg.MaxUploadSize,
		MaxLineSize:   cfg.CSVMaxLineSize,
		CleanupInputs: cfg.EngineCleanup,
	}, logger)
	historySvc := service.NewHistoryService(store, cfg.CacheMaxSize, cfg.CacheTTL, logger)

	// 8. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))
	apiHandler := handlers.NewAPIHandler(healthHandler, searchSvc, historySvc, cfg.MaxUploadSize, logger)

	// 9. JWT
	jwtAuth, err := middleware.NewJWTAuth(middleware.AuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		Secret:          cfg.JWTSecret,
		Issuer:          cfg.JWTIssuer,
		Leeway:          cfg.JWTLeeway,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации JWT: %w", err)
	}
	defer jwtAuth.Close()

	// 10. Topologymetrics (ошибка не фатальна)
	if cfg.DephealthEnabled {
		depSvc, err := service.NewDephealthService(
			"dna-search", cfg.DephealthGroup, pgDB, cfg.DatabaseURL(), cfg.DephealthCheckInterval, logger,
		)
		if err != nil {
			logger.Warn("Topologymetrics не инициализирован", slog.String("error", err.Error()))
		} else if err := depSvc.Start(ctx); err != nil {
			logger.Warn("Topologymetrics не запущен", slog.String("error", err.Error()))
		} else {
			defer depSvc.Stop()
		}
	}

	// 11. HTTP-сервер: metrics → logging → JWT (кроме health и metrics)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics", "/api/health"),
	)

	if err := srv.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("DNA Search остановлен")
	return nil
}
