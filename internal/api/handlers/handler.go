// handler.go — основной обработчик API Access Module.
// Объединяет все доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/api/middleware"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/service"
)

// APIHandler — основной обработчик API Access Module.
type APIHandler struct {
	Health   *HealthHandler
	Files    *FilesHandler
	Requests *AccessRequestsHandler
	Audit    *AuditHandler
	Users    *UsersHandler
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	files *FilesHandler,
	requests *AccessRequestsHandler,
	audit *AuditHandler,
	users *UsersHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		Health:   health,
		Files:    files,
		Requests: requests,
		Audit:    audit,
		Users:    users,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// principal извлекает принципала запроса или пишет 401.
func principal(w http.ResponseWriter, r *http.Request) (*middleware.Principal, model.Origin, bool) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		apierrors.Unauthorized(w, "Отсутствует принципал в контексте")
		return nil, model.Origin{}, false
	}
	return p, middleware.OriginFromContext(r.Context()), true
}

// pagination извлекает page и page_size из query string.
func pagination(r *http.Request) (page, pageSize int) {
	page = 0
	pageSize = service.DefaultPageSize

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	if pageSize > service.MaxPageSize {
		pageSize = service.MaxPageSize
	}
	return page, pageSize
}

// decodeJSON разбирает JSON-тело запроса в dst.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError маппит ошибку сервисного слоя на HTTP-ответ.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrSelfRequest):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка API",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
