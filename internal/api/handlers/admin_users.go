// admin_users.go — обработчики управления пользователями.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
	"github.com/securefileshare/access-module/internal/service"
)

// UsersHandler — обработчик endpoints управления пользователями.
type UsersHandler struct {
	users  *service.UserAdminService
	logger *slog.Logger
}

// NewUsersHandler создаёт обработчик управления пользователями.
func NewUsersHandler(users *service.UserAdminService, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{
		users:  users,
		logger: logger.With(slog.String("component", "users_handler")),
	}
}

// userDTO — представление пользователя для API.
type userDTO struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserDTO(u *model.User) userDTO {
	return userDTO{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

// List — GET /api/v1/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	page, pageSize := pagination(r)

	users, err := h.users.List(r.Context(), p.Actor(), origin, pageSize, page*pageSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get — GET /api/v1/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _, ok := principal(w, r)
	if !ok {
		return
	}
	u, err := h.users.GetByID(r.Context(), p.Actor(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// UpdateRole — PUT /api/v1/users/{id}/role.
func (h *UsersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	u, err := h.users.UpdateRole(r.Context(), p.Actor(), origin, chi.URLParam(r, "id"), rbac.Role(body.Role))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// SetActive — PUT /api/v1/users/{id}/active.
func (h *UsersHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}

	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Active == nil {
		apierrors.ValidationError(w, "Поле active обязательно")
		return
	}

	u, err := h.users.SetActive(r.Context(), p.Actor(), origin, chi.URLParam(r, "id"), *body.Active)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}
