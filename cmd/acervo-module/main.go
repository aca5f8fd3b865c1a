// Точка входа Acervo Module — сервис архива картографических продуктов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает сервисный слой (тома, реестр, журнал скачиваний, отчёты, тайлы),
// запускает фоновые задачи (очистка сессий загрузки, topologymetrics)
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/acervo-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/acervo-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/acervo-module/internal/config"
	"github.com/bigkaa/goartstore/acervo-module/internal/database"
	"github.com/bigkaa/goartstore/acervo-module/internal/repository"
	"github.com/bigkaa/goartstore/acervo-module/internal/server"
	"github.com/bigkaa/goartstore/acervo-module/internal/service"
	"github.com/bigkaa/goartstore/acervo-module/internal/tile"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Acervo Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("AC_DEPHEALTH_GROUP") == "" {
		logger.Warn("AC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	// Проверка PostgreSQL идёт через тот же пул соединений.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	volumeRepo := repository.NewVolumeRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	versionRepo := repository.NewVersionRepository(pool)
	fileRepo := repository.NewFileRepository(pool)
	downloadRepo := repository.NewDownloadRepository(pool)
	statsRepo := repository.NewStatsRepository(pool)

	// 6. Кэш тайлов: в памяти процесса или общий Redis
	var (
		tileCache    tile.Cache
		redisChecker handlers.ReadinessChecker
	)
	switch cfg.TileCacheBackend {
	case config.TileCacheRedis:
		client, redisErr := tile.ConnectRedis(cfg.RedisURL)
		if redisErr != nil {
			logger.Error("Ошибка настройки Redis", slog.String("error", redisErr.Error()))
			os.Exit(1)
		}
		defer client.Close()

		redisCache := tile.NewRedisCache(client, cfg.TileCacheTTL, logger)
		if pingErr := redisCache.Ping(ctx); pingErr != nil {
			logger.Warn("Redis недоступен при старте, тайлы выдаются без кэша",
				slog.String("error", pingErr.Error()),
			)
		}
		tileCache = redisCache
		redisChecker = handlers.NewPingChecker("Redis", redisCache.Ping)
		logger.Info("Кэш тайлов: Redis", slog.String("ttl", cfg.TileCacheTTL.String()))
	default:
		lru, lruErr := tile.NewLRUCache(cfg.TileCacheSize, cfg.TileCacheTTL, nil)
		if lruErr != nil {
			logger.Error("Ошибка создания кэша тайлов", slog.String("error", lruErr.Error()))
			os.Exit(1)
		}
		tileCache = lru
		logger.Info("Кэш тайлов: память процесса",
			slog.Int("size", cfg.TileCacheSize),
			slog.String("ttl", cfg.TileCacheTTL.String()),
		)
	}

	pipeline := tile.NewPipeline(productRepo, tileCache, tile.Options{
		LayerName: cfg.TileLayerName,
		Extent:    cfg.TileExtent,
		Buffer:    cfg.TileBuffer,
		MaxZoom:   cfg.TileMaxZoom,
	}, logger)

	// 7. Services
	allocatorSvc := service.NewAllocatorService(volumeRepo, logger)
	registrySvc := service.NewRegistryService(
		productRepo, versionRepo, fileRepo,
		allocatorSvc,
		pipeline,
		logger,
	)
	ledgerSvc := service.NewLedgerService(downloadRepo, logger)
	reportSvc := service.NewReportService(statsRepo, volumeRepo, registrySvc)

	// 8. Фоновая очистка брошенных сессий загрузки
	sweeper := service.NewUploadSweeper(
		registrySvc, allocatorSvc,
		cfg.UploadSessionTimeout, cfg.UploadSweepInterval,
		logger,
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + identity provider)
	var idpChecker handlers.ReadinessChecker
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"acervo-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
		idpChecker = handlers.NewDependencyChecker(dephealthSvc, "identity-provider")
	}

	// 10. Health и API handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		idpChecker,
		redisChecker,
	)
	apiHandler := handlers.NewAPIHandler(healthHandler, handlers.Services{
		Volumes:  allocatorSvc,
		Registry: registrySvc,
		Ledger:   ledgerSvc,
		Tiles:    pipeline,
		Reports:  reportSvc,
	}, cfg.TileCacheTTL, logger)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.AuthCACertPath,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.RoleReadonlyGroups,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 12. Проверка запросов по встроенному OpenAPI-контракту
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. HTTP-сервер: метрики → логирование → (операция) JWT → контракт
	srv, err := server.New(cfg, logger, apiHandler, server.Options{
		Middlewares: []func(next http.Handler) http.Handler{
			middleware.MetricsMiddleware(),
			middleware.RequestLogger(logger),
		},
		OperationMiddlewares: []openapi.MiddlewareFunc{
			openapi.MiddlewareFunc(jwtAuth.Protect(openapi.RequiredScopes)),
			openapi.MiddlewareFunc(validator.Middleware()),
		},
	})
	if err != nil {
		logger.Error("Ошибка создания HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Acervo Module остановлен")
}
