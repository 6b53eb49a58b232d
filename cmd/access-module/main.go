// Точка входа Access Module — модуль авторизации доступа к файлам
// системы защищённого обмена. Загружает конфигурацию, подключается
// к PostgreSQL, применяет миграции, создаёт byte store, сервисный слой
// и API handlers, запускает мониторинг зависимостей (topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/securefileshare/access-module/internal/api/contract"
	"github.com/securefileshare/access-module/internal/api/handlers"
	"github.com/securefileshare/access-module/internal/api/middleware"
	"github.com/securefileshare/access-module/internal/config"
	"github.com/securefileshare/access-module/internal/database"
	"github.com/securefileshare/access-module/internal/domain/authz"
	"github.com/securefileshare/access-module/internal/repository"
	"github.com/securefileshare/access-module/internal/server"
	"github.com/securefileshare/access-module/internal/service"
	"github.com/securefileshare/access-module/internal/storage"
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
	logger.Info("Access Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("ACM_DEPHEALTH_GROUP") == "" {
		logger.Warn("ACM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. OpenAPI-контракт: невалидная спецификация — ошибка старта
	ctx := context.Background()
	apiDoc, err := contract.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 6. Byte store: зашифрованные блобы на файловой системе
	keys := storage.NewStaticKeyProvider(cfg.StorageSecret)
	store, err := storage.NewFSStore(cfg.StorageDir, keys)
	if err != nil {
		logger.Error("Ошибка инициализации byte store",
			slog.String("dir", cfg.StorageDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 7. Repositories
	userRepo := repository.NewUserRepository(pool)
	fileRepo := repository.NewFileRepository(pool)
	requestRepo := repository.NewAccessRequestRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 8. Services
	auditSvc := service.NewAuditService(auditRepo, logger)
	requestSvc := service.NewAccessRequestService(
		requestRepo, fileRepo, auditSvc,
		cfg.ProtectedAccessTTL,
		logger,
	)
	engine := authz.New(requestSvc)
	cacheSvc := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	fileSvc := service.NewFileService(
		fileRepo, engine, store, auditSvc, cacheSvc, txRunner,
		logger,
	)
	userSvc := service.NewUserAdminService(userRepo, auditSvc, logger)

	// 9. Мониторинг зависимостей (topologymetrics)
	dephealthSvc, err := service.NewDephealthService(
		"access-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dephealthSvc.Stop()

	// 10. Readiness checkers (PostgreSQL + IdP)
	pgChecker := database.NewReadinessChecker(pool)
	idpChecker, err := middleware.NewIDPReadinessChecker(cfg.JWTJWKSURL, cfg.IDPCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания IdP readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker)

	// 11. API handlers
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		handlers.NewFilesHandler(fileSvc, logger),
		handlers.NewAccessRequestsHandler(requestSvc, logger),
		handlers.NewAuditHandler(auditSvc, logger),
		handlers.NewUsersHandler(userSvc, logger),
		logger,
	)

	// 12. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.IDPCACertPath,
		cfg.JWTIssuer,
		userRepo,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. HTTP-сервер с graceful shutdown
	srv := server.New(cfg, logger, apiHandler, jwtAuth, apiDoc)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Access Module остановлен")
}
