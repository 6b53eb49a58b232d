// Пакет server — HTTP-сервер Access Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"

	"github.com/securefileshare/access-module/internal/api/contract"
	"github.com/securefileshare/access-module/internal/api/handlers"
	"github.com/securefileshare/access-module/internal/api/middleware"
	"github.com/securefileshare/access-module/internal/config"
	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// Server — HTTP-сервер Access Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
// apiDoc — загруженный OpenAPI-контракт, отдаётся на /openapi.json.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth, apiDoc *openapi3.T) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics", "/openapi.json"))
	}

	// Публичные endpoints
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)
	if apiDoc != nil {
		router.Get("/openapi.json", contract.Handler(apiDoc))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.Files.List)
			r.Post("/", h.Files.Upload)
			r.Get("/{id}", h.Files.Get)
			r.Delete("/{id}", h.Files.Delete)
			r.Get("/{id}/download", h.Files.Download)
			r.Put("/{id}/visibility", h.Files.UpdateVisibility)
			r.Post("/{id}/revoke", h.Requests.RevokeFile)
		})

		r.Route("/access-requests", func(r chi.Router) {
			r.Post("/", h.Requests.Create)
			r.Get("/inbox", h.Requests.Inbox)
			r.Get("/my", h.Requests.My)
			r.Get("/{id}", h.Requests.Get)
			r.Post("/{id}/approve", h.Requests.Approve)
			r.Post("/{id}/reject", h.Requests.Reject)
		})

		// Журнал аудита и надзорные метаданные — только роли с VIEW_AUDIT_LOGS.
		r.Route("/audit", func(r chi.Router) {
			r.Use(middleware.RequirePermission(rbac.PermViewAuditLogs))
			r.Get("/", h.Audit.Search)
			r.Get("/export", h.Audit.Export)
			r.Get("/filters", h.Audit.Filters)
			r.Get("/stats", h.Audit.Stats)
			r.Route("/files", func(r chi.Router) {
				r.Get("/", h.Files.AuditorList)
				r.Get("/stats", h.Files.AuditorStats)
				r.Get("/{id}", h.Files.AuditorGet)
			})
			r.Get("/{id}", h.Audit.Get)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.Users.List)
			r.Get("/{id}", h.Users.Get)
			r.Put("/{id}/role", h.Users.UpdateRole)
			r.Put("/{id}/active", h.Users.SetActive)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Проверяем, начинается ли путь с исключённого префикса
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Применяем JWT middleware
			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
