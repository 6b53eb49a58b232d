// audit.go — обработчики журнала аудита (read-only поверхность аудитора).
// Доступ к журналу требует разрешения VIEW_AUDIT_LOGS; просмотр
// и экспорт сами попадают в журнал.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/repository"
	"github.com/securefileshare/access-module/internal/service"
)

// AuditHandler — обработчик endpoints журнала аудита.
type AuditHandler struct {
	audit  *service.AuditService
	logger *slog.Logger
}

// NewAuditHandler создаёт обработчик журнала аудита.
func NewAuditHandler(audit *service.AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// auditEntryDTO — представление записи журнала для API.
type auditEntryDTO struct {
	ID           int64     `json:"id"`
	Username     *string   `json:"username,omitempty"`
	Role         *string   `json:"role,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *string   `json:"resource_id,omitempty"`
	FileName     *string   `json:"file_name,omitempty"`
	Outcome      string    `json:"outcome"`
	Details      string    `json:"details"`
	IPAddress    *string   `json:"ip_address,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAuditEntryDTO(e *model.AuditEntry) auditEntryDTO {
	return auditEntryDTO{
		ID:           e.ID,
		Username:     e.Username,
		Role:         e.Role,
		Action:       string(e.Action),
		ResourceType: string(e.ResourceType),
		ResourceID:   e.ResourceID,
		FileName:     e.FileName,
		Outcome:      string(e.Outcome),
		Details:      e.Details,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		CreatedAt:    e.CreatedAt,
	}
}

// auditPageDTO — страница записей журнала.
type auditPageDTO struct {
	Entries    []auditEntryDTO `json:"entries"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalItems int             `json:"total_items"`
	TotalPages int             `json:"total_pages"`
}

// filtersFromQuery извлекает фильтры поиска из query string.
func filtersFromQuery(r *http.Request) repository.AuditFilters {
	q := r.URL.Query()
	var f repository.AuditFilters

	set := func(dst **string, key string) {
		if v := q.Get(key); v != "" {
			*dst = &v
		}
	}
	set(&f.Username, "username")
	set(&f.Action, "action")
	set(&f.Outcome, "outcome")
	set(&f.ResourceType, "resource_type")
	set(&f.FileName, "file_name")

	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	return f
}

// Search — GET /api/v1/audit.
func (h *AuditHandler) Search(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	page, pageSize := pagination(r)

	res, err := h.audit.Search(r.Context(), filtersFromQuery(r), page, pageSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.Record(r.Context(), service.Event{
		Actor:        p.Actor(),
		Action:       model.ActionViewAuditLogs,
		ResourceType: model.ResourceSystem,
		Details:      fmt.Sprintf("Просмотр журнала аудита (страница %d)", page),
		Origin:       origin,
	})

	out := auditPageDTO{
		Entries:    make([]auditEntryDTO, 0, len(res.Entries)),
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// Export — GET /api/v1/audit/export.
// Отдаёт CSV-выгрузку журнала по тем же фильтрам, что и поиск.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}

	csvData, err := h.audit.ExportCSV(r.Context(), filtersFromQuery(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.Record(r.Context(), service.Event{
		Actor:        p.Actor(),
		Action:       model.ActionExportAuditLogs,
		ResourceType: model.ResourceSystem,
		Details:      "Экспорт журнала аудита в CSV",
		Origin:       origin,
	})

	filename := fmt.Sprintf("audit_log_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csvData))
}

// Filters — GET /api/v1/audit/filters.
func (h *AuditHandler) Filters(w http.ResponseWriter, r *http.Request) {
	opts, err := h.audit.FilterOptions(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// Stats — GET /api/v1/audit/stats.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.audit.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Get — GET /api/v1/audit/{id}.
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор записи журнала")
		return
	}
	e, err := h.audit.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTO(e))
}
