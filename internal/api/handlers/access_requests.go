// access_requests.go — обработчики жизненного цикла запросов доступа.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/service"
)

// AccessRequestsHandler — обработчик endpoints запросов доступа.
type AccessRequestsHandler struct {
	requests *service.AccessRequestService
	logger   *slog.Logger
}

// NewAccessRequestsHandler создаёт обработчик запросов доступа.
func NewAccessRequestsHandler(requests *service.AccessRequestService, logger *slog.Logger) *AccessRequestsHandler {
	return &AccessRequestsHandler{
		requests: requests,
		logger:   logger.With(slog.String("component", "access_requests_handler")),
	}
}

// accessRequestDTO — представление запроса доступа для API.
type accessRequestDTO struct {
	ID                string     `json:"id"`
	FileID            string     `json:"file_id"`
	FileName          string     `json:"file_name"`
	OwnerUsername     string     `json:"owner_username"`
	RequesterUsername string     `json:"requester_username"`
	AccessType        string     `json:"access_type"`
	Status            string     `json:"status"`
	Purpose           string     `json:"purpose"`
	CreatedAt         time.Time  `json:"created_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

func toAccessRequestDTO(r *model.AccessRequest) accessRequestDTO {
	return accessRequestDTO{
		ID:                r.ID,
		FileID:            r.FileID,
		FileName:          r.FileName,
		OwnerUsername:     r.OwnerUsername,
		RequesterUsername: r.RequesterUsername,
		AccessType:        string(r.AccessType),
		Status:            string(r.Status),
		Purpose:           r.Purpose,
		CreatedAt:         r.CreatedAt,
		DecidedAt:         r.DecidedAt,
		ExpiresAt:         r.ExpiresAt,
	}
}

func toAccessRequestDTOs(reqs []*model.AccessRequest) []accessRequestDTO {
	out := make([]accessRequestDTO, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toAccessRequestDTO(r))
	}
	return out
}

// Create — POST /api/v1/access-requests.
func (h *AccessRequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}

	var body struct {
		FileID     string `json:"file_id"`
		AccessType string `json:"access_type"`
		Purpose    string `json:"purpose"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if body.FileID == "" {
		apierrors.ValidationError(w, "Поле file_id обязательно")
		return
	}

	req, err := h.requests.Create(r.Context(), p.Actor(), origin, service.CreateParams{
		FileID:     body.FileID,
		AccessType: model.AccessType(body.AccessType),
		Purpose:    body.Purpose,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccessRequestDTO(req))
}

// Inbox — GET /api/v1/access-requests/inbox.
func (h *AccessRequestsHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	p, _, ok := principal(w, r)
	if !ok {
		return
	}
	reqs, err := h.requests.Inbox(r.Context(), p.Actor())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessRequestDTOs(reqs))
}

// My — GET /api/v1/access-requests/my.
func (h *AccessRequestsHandler) My(w http.ResponseWriter, r *http.Request) {
	p, _, ok := principal(w, r)
	if !ok {
		return
	}
	reqs, err := h.requests.MyRequests(r.Context(), p.Actor())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessRequestDTOs(reqs))
}

// Get — GET /api/v1/access-requests/{id}.
func (h *AccessRequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _, ok := principal(w, r)
	if !ok {
		return
	}
	req, err := h.requests.GetByID(r.Context(), p.Actor(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessRequestDTO(req))
}

// Approve — POST /api/v1/access-requests/{id}/approve.
func (h *AccessRequestsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	req, err := h.requests.Approve(r.Context(), p.Actor(), origin, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessRequestDTO(req))
}

// Reject — POST /api/v1/access-requests/{id}/reject.
func (h *AccessRequestsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	req, err := h.requests.Reject(r.Context(), p.Actor(), origin, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessRequestDTO(req))
}

// RevokeFile — POST /api/v1/files/{id}/revoke.
// Снимает все запросы доступа к файлу владельца.
func (h *AccessRequestsHandler) RevokeFile(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.requests.RevokeAll(r.Context(), p.Actor(), origin, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
