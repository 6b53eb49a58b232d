// access_request.go — жизненный цикл запросов доступа к защищённым файлам.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
	"github.com/securefileshare/access-module/internal/repository"
)

// MinAccessTTL — нижняя граница срока действия одобренного доступа.
const MinAccessTTL = 60 * time.Second

// AccessRequestService — сервис запросов доступа.
type AccessRequestService struct {
	requests repository.AccessRequestRepository
	files    repository.FileRepository
	audit    *AuditService
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAccessRequestService создаёт сервис запросов доступа.
// ttl — настроенный срок действия одобренного доступа; значения
// меньше MinAccessTTL поднимаются до него.
func NewAccessRequestService(
	requests repository.AccessRequestRepository,
	files repository.FileRepository,
	audit *AuditService,
	ttl time.Duration,
	logger *slog.Logger,
) *AccessRequestService {
	if ttl < MinAccessTTL {
		ttl = MinAccessTTL
	}
	return &AccessRequestService{
		requests: requests,
		files:    files,
		audit:    audit,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "access_request_service")),
	}
}

// CreateParams — параметры создания запроса доступа.
type CreateParams struct {
	FileID     string
	AccessType model.AccessType
	Purpose    string
}

// Create создаёт запрос доступа к защищённому файлу.
// Создавать запросы могут только роли административного класса;
// файл должен быть PROTECTED и не принадлежать запрашивающему;
// цель обязательна.
func (s *AccessRequestService) Create(ctx context.Context, actor model.Actor, origin model.Origin, p CreateParams) (*model.AccessRequest, error) {
	if !rbac.CanRequestAccess(actor.Role) {
		return nil, fmt.Errorf("%w: роль %s не может запрашивать доступ", ErrInvalidRole, actor.Role)
	}

	purpose := strings.TrimSpace(p.Purpose)
	if purpose == "" {
		return nil, fmt.Errorf("%w: цель запроса обязательна", ErrValidation)
	}
	if !p.AccessType.IsValid() {
		return nil, fmt.Errorf("%w: неизвестный тип доступа %q", ErrValidation, string(p.AccessType))
	}

	file, err := s.files.GetByID(ctx, p.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, p.FileID)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}
	if file.OwnerID == actor.UserID {
		return nil, ErrSelfRequest
	}
	if file.Visibility != model.VisibilityProtected {
		return nil, fmt.Errorf("%w: запрос доступа возможен только к PROTECTED-файлам", ErrInvalidState)
	}

	req := &model.AccessRequest{
		ID:          uuid.NewString(),
		FileID:      file.ID,
		RequesterID: actor.UserID,
		AccessType:  p.AccessType,
		Status:      model.StatusPending,
		Purpose:     purpose,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("создание запроса доступа: %w", err)
	}
	req.FileName = file.FileName
	req.OwnerUsername = file.OwnerUsername
	req.RequesterUsername = actor.Username

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionAccessRequest,
		ResourceType: model.ResourceAccessRequest,
		ResourceID:   req.ID,
		FileName:     file.FileName,
		Details:      fmt.Sprintf("Запрошен доступ %s к файлу %s: %s", req.AccessType, file.FileName, purpose),
		Origin:       origin,
	})

	s.logger.Info("Создан запрос доступа",
		slog.String("request_id", req.ID),
		slog.String("file_id", file.ID),
		slog.String("requester", actor.Username),
	)
	return req, nil
}

// Approve одобряет ожидающий запрос доступа.
// Решение принимает только владелец файла; аудиторы решений не принимают.
// Срок действия отсчитывается от момента решения.
func (s *AccessRequestService) Approve(ctx context.Context, actor model.Actor, origin model.Origin, requestID string) (*model.AccessRequest, error) {
	return s.decide(ctx, actor, origin, requestID, model.StatusApproved)
}

// Reject отклоняет ожидающий запрос доступа.
func (s *AccessRequestService) Reject(ctx context.Context, actor model.Actor, origin model.Origin, requestID string) (*model.AccessRequest, error) {
	return s.decide(ctx, actor, origin, requestID, model.StatusRejected)
}

func (s *AccessRequestService) decide(ctx context.Context, actor model.Actor, origin model.Origin, requestID string, status model.RequestStatus) (*model.AccessRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: запрос %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("получение запроса доступа: %w", err)
	}

	file, err := s.files.GetByID(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, req.FileID)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}

	if !rbac.CanDecideAccess(actor.Role) || file.OwnerID != actor.UserID {
		s.recordDecisionFailure(ctx, actor, origin, req, file, status)
		return nil, fmt.Errorf("%w: решение принимает только владелец файла", ErrForbidden)
	}
	if req.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: запрос уже %s", ErrInvalidState, req.Status)
	}

	decidedAt := s.now().UTC()
	var expiresAt *time.Time
	if status == model.StatusApproved {
		t := decidedAt.Add(s.ttl)
		expiresAt = &t
	}

	// Условный UPDATE по статусу PENDING: параллельное решение того же
	// запроса получает ErrStateChanged, а не молчаливую перезапись.
	if err := s.requests.Decide(ctx, req.ID, status, decidedAt, expiresAt); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("%w: запрос уже решён", ErrInvalidState)
		}
		return nil, fmt.Errorf("сохранение решения: %w", err)
	}

	req.Status = status
	req.DecidedAt = &decidedAt
	req.ExpiresAt = expiresAt

	action := model.ActionAccessGrant
	details := fmt.Sprintf("Одобрен доступ %s к файлу %s для %s до %s",
		req.AccessType, file.FileName, req.RequesterUsername, decidedAt.Add(s.ttl).Format(time.RFC3339))
	if status == model.StatusRejected {
		action = model.ActionAccessDeny
		details = fmt.Sprintf("Отклонён запрос доступа %s к файлу %s от %s",
			req.AccessType, file.FileName, req.RequesterUsername)
	}
	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourceAccessRequest,
		ResourceID:   req.ID,
		FileName:     file.FileName,
		Details:      details,
		Origin:       origin,
	})

	s.logger.Info("Решение по запросу доступа",
		slog.String("request_id", req.ID),
		slog.String("status", string(status)),
		slog.String("decided_by", actor.Username),
	)
	return req, nil
}

// recordDecisionFailure фиксирует попытку решения без прав.
func (s *AccessRequestService) recordDecisionFailure(ctx context.Context, actor model.Actor, origin model.Origin, req *model.AccessRequest, file *model.File, status model.RequestStatus) {
	action := model.ActionAccessGrant
	if status == model.StatusRejected {
		action = model.ActionAccessDeny
	}
	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourceAccessRequest,
		ResourceID:   req.ID,
		FileName:     file.FileName,
		Outcome:      model.OutcomeFailure,
		Details:      fmt.Sprintf("Попытка решения по запросу %s без прав владельца", req.ID),
		Origin:       origin,
	})
}

// ActiveGrant возвращает действующий одобренный запрос для пары
// файл/запрашивающий или nil, если такого нет. Реализует authz.GrantSource.
func (s *AccessRequestService) ActiveGrant(ctx context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error) {
	return s.requests.ActiveGrant(ctx, fileID, requesterID, now)
}

// Inbox возвращает ожидающие запросы к файлам владельца.
// Для аудитора входящих нет.
func (s *AccessRequestService) Inbox(ctx context.Context, actor model.Actor) ([]*model.AccessRequest, error) {
	if actor.Role == rbac.RoleAuditor {
		return []*model.AccessRequest{}, nil
	}
	reqs, err := s.requests.ListPendingForOwner(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("выборка входящих запросов: %w", err)
	}
	return reqs, nil
}

// MyRequests возвращает запросы, созданные актором.
// Для аудитора список пуст.
func (s *AccessRequestService) MyRequests(ctx context.Context, actor model.Actor) ([]*model.AccessRequest, error) {
	if actor.Role == rbac.RoleAuditor {
		return []*model.AccessRequest{}, nil
	}
	reqs, err := s.requests.ListByRequester(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("выборка моих запросов: %w", err)
	}
	return reqs, nil
}

// RevokeAll снимает все запросы доступа к файлу владельца:
// и ожидающие, и одобренные. Используется при смене видимости
// и как явный отзыв доступа.
func (s *AccessRequestService) RevokeAll(ctx context.Context, actor model.Actor, origin model.Origin, fileID string) (int, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return 0, fmt.Errorf("получение файла: %w", err)
	}
	if file.OwnerID != actor.UserID {
		return 0, fmt.Errorf("%w: отзыв доступен только владельцу файла", ErrForbidden)
	}

	n, err := s.requests.DeleteByFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("снятие запросов доступа: %w", err)
	}
	if n > 0 {
		s.audit.Record(ctx, Event{
			Actor:        actor,
			Action:       model.ActionAccessRevoke,
			ResourceType: model.ResourceFile,
			ResourceID:   file.ID,
			FileName:     file.FileName,
			Details:      fmt.Sprintf("Отозваны все запросы доступа к файлу %s (%d шт.)", file.FileName, n),
			Origin:       origin,
		})
	}
	return n, nil
}

// GetByID возвращает запрос доступа, видимый актору:
// владельцу файла, запрашивающему или административному классу.
func (s *AccessRequestService) GetByID(ctx context.Context, actor model.Actor, requestID string) (*model.AccessRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: запрос %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("получение запроса доступа: %w", err)
	}
	file, err := s.files.GetByID(ctx, req.FileID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение файла: %w", err)
	}
	isOwner := file != nil && file.OwnerID == actor.UserID
	if !isOwner && req.RequesterID != actor.UserID && !rbac.IsAdminClass(actor.Role) {
		return nil, fmt.Errorf("%w: запрос недоступен", ErrForbidden)
	}
	return req, nil
}
