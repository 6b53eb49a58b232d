// file.go — файловые операции: загрузка, скачивание, листинг,
// смена видимости, удаление. Каждое решение о доступе принимает
// движок авторизации, каждое чувствительное действие попадает в журнал.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/securefileshare/access-module/internal/domain/authz"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
	"github.com/securefileshare/access-module/internal/repository"
	"github.com/securefileshare/access-module/internal/storage"
)

// FileService — сервис файловых операций.
type FileService struct {
	files  repository.FileRepository
	engine *authz.Engine
	store  storage.ByteStore
	audit  *AuditService
	cache  *CacheService
	tx     *repository.TxRunner
	now    func() time.Time
	logger *slog.Logger
}

// NewFileService создаёт сервис файловых операций.
func NewFileService(
	files repository.FileRepository,
	engine *authz.Engine,
	store storage.ByteStore,
	audit *AuditService,
	cache *CacheService,
	tx *repository.TxRunner,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:  files,
		engine: engine,
		store:  store,
		audit:  audit,
		cache:  cache,
		tx:     tx,
		now:    time.Now,
		logger: logger.With(slog.String("component", "file_service")),
	}
}

// actorUser строит принципала для движка авторизации из актора запроса.
func actorUser(actor model.Actor) *model.User {
	if actor.IsZero() {
		return nil
	}
	return &model.User{ID: actor.UserID, Username: actor.Username, Role: actor.Role}
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	FileName    string
	ContentType string
	Visibility  model.Visibility
	Purpose     *string
	Category    *string
	Data        []byte
}

// Upload сохраняет байты в byte store и создаёт запись файла.
// Видимость по умолчанию — PRIVATE.
func (s *FileService) Upload(ctx context.Context, actor model.Actor, origin model.Origin, p UploadParams) (*model.File, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermFileUpload) {
		return nil, fmt.Errorf("%w: роль %s не может загружать файлы", ErrInvalidRole, actor.Role)
	}
	name := strings.TrimSpace(p.FileName)
	if name == "" {
		return nil, fmt.Errorf("%w: имя файла обязательно", ErrValidation)
	}
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("%w: пустое содержимое файла", ErrValidation)
	}
	if p.Visibility == "" {
		p.Visibility = model.VisibilityPrivate
	}
	if _, ok := model.ParseVisibility(string(p.Visibility)); !ok {
		return nil, fmt.Errorf("%w: неизвестная видимость %q", ErrValidation, string(p.Visibility))
	}

	fileID := uuid.NewString()
	storagePath, err := s.store.Store(fileID, p.Data)
	if err != nil {
		return nil, fmt.Errorf("сохранение содержимого: %w", err)
	}

	file := &model.File{
		ID:          fileID,
		FileName:    name,
		StoragePath: storagePath,
		ContentType: p.ContentType,
		SizeBytes:   int64(len(p.Data)),
		Visibility:  p.Visibility,
		Purpose:     p.Purpose,
		Category:    p.Category,
		OwnerID:     actor.UserID,
		UploadedAt:  s.now().UTC(),
	}
	if err := s.files.Create(ctx, file); err != nil {
		// Запись метаданных не прошла, блоб подчищаем.
		if derr := s.store.Delete(storagePath); derr != nil {
			s.logger.Error("Не удалось подчистить блоб после сбоя записи метаданных",
				slog.String("storage_path", storagePath),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("создание записи файла: %w", err)
	}
	file.OwnerUsername = actor.Username

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionUpload,
		ResourceType: model.ResourceFile,
		ResourceID:   file.ID,
		FileName:     file.FileName,
		Details:      fmt.Sprintf("Загружен файл %s (%d байт, %s)", file.FileName, file.SizeBytes, file.Visibility),
		Origin:       origin,
	})

	s.logger.Info("Файл загружен",
		slog.String("file_id", file.ID),
		slog.String("owner", actor.Username),
		slog.String("visibility", string(file.Visibility)),
	)
	return file, nil
}

// Download возвращает расшифрованное содержимое файла, если движок
// авторизации разрешил скачивание. Отказ фиксируется в журнале
// как DOWNLOAD_DENIED.
func (s *FileService) Download(ctx context.Context, actor model.Actor, origin model.Origin, fileID string) (*model.File, []byte, error) {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	allowed, err := s.engine.CanDownloadContent(ctx, actorUser(actor), file, s.now().UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("проверка доступа: %w", err)
	}
	if !allowed {
		s.audit.Record(ctx, Event{
			Actor:        actor,
			Action:       model.ActionDownloadDenied,
			ResourceType: model.ResourceFile,
			ResourceID:   file.ID,
			FileName:     file.FileName,
			Outcome:      model.OutcomeFailure,
			Details:      fmt.Sprintf("Отказ в скачивании файла %s", file.FileName),
			Origin:       origin,
		})
		return nil, nil, fmt.Errorf("%w: скачивание файла %s запрещено", ErrForbidden, file.FileName)
	}

	data, err := s.store.Retrieve(file.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupted) {
			s.logger.Error("Содержимое файла не прошло проверку целостности",
				slog.String("file_id", file.ID),
			)
		}
		return nil, nil, fmt.Errorf("чтение содержимого: %w", err)
	}

	// Скачивание чужого файла административным классом — отдельный
	// код события: надзор должен отличать его от обычного DOWNLOAD.
	action := model.ActionDownload
	details := fmt.Sprintf("Скачан файл %s (%d байт)", file.FileName, file.SizeBytes)
	if rbac.IsAdminClass(actor.Role) && file.OwnerID != actor.UserID {
		action = model.ActionAdminFileAccess
		details = fmt.Sprintf("Административное скачивание файла %s (владелец %s)", file.FileName, file.OwnerUsername)
	}
	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourceFile,
		ResourceID:   file.ID,
		FileName:     file.FileName,
		Details:      details,
		Origin:       origin,
	})
	return file, data, nil
}

// GetMetadata возвращает метаданные файла, видимые актору.
// Чувствительные поля включаются только по разрешению движка.
func (s *FileService) GetMetadata(ctx context.Context, actor model.Actor, fileID string) (*model.FileMetadata, error) {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	u := actorUser(actor)
	now := s.now().UTC()

	visible, err := s.engine.CanViewMetadata(ctx, u, file, now)
	if err != nil {
		return nil, fmt.Errorf("проверка доступа: %w", err)
	}
	if !visible {
		// Невидимый файл неотличим от несуществующего.
		return nil, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
	}
	sensitive, err := s.engine.CanViewSensitiveMetadata(ctx, u, file, now)
	if err != nil {
		return nil, fmt.Errorf("проверка доступа: %w", err)
	}

	m := file.Metadata(sensitive)
	return &m, nil
}

// ListVisible возвращает метаданные файлов, видимых актору.
// Аудитор обычных листингов не видит. Листинг чужих файлов
// административным классом фиксируется в журнале.
func (s *FileService) ListVisible(ctx context.Context, actor model.Actor, origin model.Origin, limit, offset int) ([]model.FileMetadata, error) {
	if actor.Role == rbac.RoleAuditor {
		return []model.FileMetadata{}, nil
	}
	if limit < 1 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	files, err := s.files.List(ctx, false, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("выборка файлов: %w", err)
	}

	u := actorUser(actor)
	now := s.now().UTC()
	out := make([]model.FileMetadata, 0, len(files))
	sawForeign := false
	for _, f := range files {
		visible, err := s.engine.CanViewMetadata(ctx, u, f, now)
		if err != nil {
			return nil, fmt.Errorf("проверка доступа: %w", err)
		}
		if !visible {
			continue
		}
		sensitive, err := s.engine.CanViewSensitiveMetadata(ctx, u, f, now)
		if err != nil {
			return nil, fmt.Errorf("проверка доступа: %w", err)
		}
		if f.OwnerID != actor.UserID {
			sawForeign = true
		}
		out = append(out, f.Metadata(sensitive))
	}

	if sawForeign && rbac.IsAdminClass(actor.Role) {
		s.audit.Record(ctx, Event{
			Actor:        actor,
			Action:       model.ActionMetadataView,
			ResourceType: model.ResourceFile,
			Details:      "Просмотр листинга файлов с чужими записями",
			Origin:       origin,
		})
	}
	return out, nil
}

// UpdateVisibility меняет уровень доступа файла. Только владелец.
// Уход из PROTECTED снимает все запросы доступа к файлу в той же
// транзакции: грант не должен пережить видимость, которая его породила.
func (s *FileService) UpdateVisibility(ctx context.Context, actor model.Actor, origin model.Origin, fileID string, v model.Visibility) (*model.File, error) {
	if _, ok := model.ParseVisibility(string(v)); !ok {
		return nil, fmt.Errorf("%w: неизвестная видимость %q", ErrValidation, string(v))
	}
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != actor.UserID {
		return nil, fmt.Errorf("%w: видимость меняет только владелец", ErrForbidden)
	}
	if file.Visibility == v {
		return file, nil
	}

	old := file.Visibility
	cleared := 0
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := repository.NewFileRepository(tx).UpdateVisibility(ctx, fileID, v); err != nil {
			return err
		}
		if old == model.VisibilityProtected {
			n, err := repository.NewAccessRequestRepository(tx).DeleteByFile(ctx, fileID)
			if err != nil {
				return err
			}
			cleared = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("смена видимости: %w", err)
	}
	file.Visibility = v
	s.cache.Delete(fileID)

	details := fmt.Sprintf("Видимость файла %s: %s -> %s", file.FileName, old, v)
	if cleared > 0 {
		details = fmt.Sprintf("%s, снято запросов доступа: %d", details, cleared)
	}
	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionVisibilityUpdate,
		ResourceType: model.ResourceFile,
		ResourceID:   file.ID,
		FileName:     file.FileName,
		Details:      details,
		Origin:       origin,
	})

	s.logger.Info("Видимость файла изменена",
		slog.String("file_id", file.ID),
		slog.String("from", string(old)),
		slog.String("to", string(v)),
	)
	return file, nil
}

// Delete помечает файл удалённым и снимает все запросы доступа
// к нему в одной транзакции. Только владелец. Блоб остаётся
// в byte store до физической очистки.
func (s *FileService) Delete(ctx context.Context, actor model.Actor, origin model.Origin, fileID string) error {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.OwnerID != actor.UserID {
		return fmt.Errorf("%w: файл удаляет только владелец", ErrForbidden)
	}

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := repository.NewFileRepository(tx).SoftDelete(ctx, fileID); err != nil {
			return err
		}
		_, err := repository.NewAccessRequestRepository(tx).DeleteByFile(ctx, fileID)
		return err
	})
	if err != nil {
		return fmt.Errorf("удаление файла: %w", err)
	}
	s.cache.Delete(fileID)

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionDelete,
		ResourceType: model.ResourceFile,
		ResourceID:   file.ID,
		FileName:     file.FileName,
		Details:      fmt.Sprintf("Удалён файл %s", file.FileName),
		Origin:       origin,
	})

	s.logger.Info("Файл удалён",
		slog.String("file_id", file.ID),
		slog.String("owner", actor.Username),
	)
	return nil
}

// FileStats — сводка реестра файлов для надзорного интерфейса.
type FileStats struct {
	TotalFiles   int `json:"total_files"`
	ActiveFiles  int `json:"active_files"`
	DeletedFiles int `json:"deleted_files"`
}

// AuditorListFiles возвращает базовые метаданные файлов для надзорного
// интерфейса: без путей хранения и чувствительных полей. Каждое
// обращение фиксируется в журнале как VIEW_FILE_METADATA.
func (s *FileService) AuditorListFiles(ctx context.Context, actor model.Actor, origin model.Origin, limit, offset int) ([]model.FileMetadata, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermViewAuditLogs) {
		return nil, fmt.Errorf("%w: надзорный интерфейс требует права чтения журнала", ErrForbidden)
	}
	if limit < 1 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	files, err := s.files.List(ctx, false, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("выборка файлов: %w", err)
	}
	out := make([]model.FileMetadata, 0, len(files))
	for _, f := range files {
		out = append(out, f.Metadata(false))
	}

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionViewFileMeta,
		ResourceType: model.ResourceFile,
		Details:      fmt.Sprintf("Надзорный просмотр метаданных файлов (%d записей)", len(out)),
		Origin:       origin,
	})
	return out, nil
}

// AuditorGetFile возвращает базовые метаданные одного файла
// для надзорного интерфейса.
func (s *FileService) AuditorGetFile(ctx context.Context, actor model.Actor, origin model.Origin, fileID string) (*model.FileMetadata, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermViewAuditLogs) {
		return nil, fmt.Errorf("%w: надзорный интерфейс требует права чтения журнала", ErrForbidden)
	}
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionViewFileMeta,
		ResourceType: model.ResourceFile,
		ResourceID:   file.ID,
		FileName:     file.FileName,
		Details:      fmt.Sprintf("Надзорный просмотр метаданных файла %s", file.FileName),
		Origin:       origin,
	})
	m := file.Metadata(false)
	return &m, nil
}

// AuditorFileStats возвращает сводку реестра файлов.
func (s *FileService) AuditorFileStats(ctx context.Context, actor model.Actor, origin model.Origin) (*FileStats, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermViewAuditLogs) {
		return nil, fmt.Errorf("%w: надзорный интерфейс требует права чтения журнала", ErrForbidden)
	}
	total, err := s.files.Count(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("подсчёт файлов: %w", err)
	}
	active, err := s.files.Count(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("подсчёт активных файлов: %w", err)
	}

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionViewFileMeta,
		ResourceType: model.ResourceFile,
		Details:      "Надзорный просмотр сводки реестра файлов",
		Origin:       origin,
	})
	return &FileStats{
		TotalFiles:   total,
		ActiveFiles:  active,
		DeletedFiles: total - active,
	}, nil
}

// getFile возвращает файл по UUID, сперва пробуя кэш метаданных.
func (s *FileService) getFile(ctx context.Context, fileID string) (*model.File, error) {
	if f, ok := s.cache.Get(fileID); ok {
		return f, nil
	}
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}
	s.cache.Set(fileID, f)
	return f, nil
}
