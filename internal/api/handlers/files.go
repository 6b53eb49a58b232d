// files.go — обработчики файловых операций.
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/service"
)

// maxUploadBytes — потолок размера загружаемого файла (64 MiB).
const maxUploadBytes = 64 << 20

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files  *service.FileService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(files *service.FileService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		files:  files,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// List — GET /api/v1/files.
// Возвращает метаданные файлов, видимых принципалу.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	page, pageSize := pagination(r)

	out, err := h.files.ListVisible(r.Context(), p.Actor(), origin, pageSize, page*pageSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Upload — POST /api/v1/files (multipart/form-data).
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apierrors.ValidationError(w, "Некорректная multipart-форма или превышен размер файла")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		apierrors.InternalError(w, "Ошибка чтения содержимого файла")
		return
	}

	params := service.UploadParams{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Visibility:  model.Visibility(r.FormValue("visibility")),
		Data:        data,
	}
	if v := r.FormValue("purpose"); v != "" {
		params.Purpose = &v
	}
	if v := r.FormValue("category"); v != "" {
		params.Category = &v
	}

	file, err := h.files.Upload(r.Context(), p.Actor(), origin, params)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, file.Metadata(true))
}

// Get — GET /api/v1/files/{id}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _, ok := principal(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "id")

	m, err := h.files.GetMetadata(r.Context(), p.Actor(), fileID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Download — GET /api/v1/files/{id}/download.
// Отдаёт расшифрованное содержимое файла.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "id")

	file, data, err := h.files.Download(r.Context(), p.Actor(), origin, fileID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// UpdateVisibility — PUT /api/v1/files/{id}/visibility.
func (h *FilesHandler) UpdateVisibility(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "id")

	var body struct {
		Visibility string `json:"visibility"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	file, err := h.files.UpdateVisibility(r.Context(), p.Actor(), origin, fileID, model.Visibility(body.Visibility))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, file.Metadata(true))
}

// AuditorList — GET /api/v1/audit/files.
// Надзорный листинг метаданных файлов: без путей хранения
// и чувствительных полей.
func (h *FilesHandler) AuditorList(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	page, pageSize := pagination(r)

	out, err := h.files.AuditorListFiles(r.Context(), p.Actor(), origin, pageSize, page*pageSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AuditorGet — GET /api/v1/audit/files/{id}.
func (h *FilesHandler) AuditorGet(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "id")

	m, err := h.files.AuditorGetFile(r.Context(), p.Actor(), origin, fileID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// AuditorStats — GET /api/v1/audit/files/stats.
func (h *FilesHandler) AuditorStats(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	stats, err := h.files.AuditorFileStats(r.Context(), p.Actor(), origin)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Delete — DELETE /api/v1/files/{id}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, origin, ok := principal(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "id")

	if err := h.files.Delete(r.Context(), p.Actor(), origin, fileID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
