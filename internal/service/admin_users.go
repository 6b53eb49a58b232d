// admin_users.go — административное управление пользователями:
// смена роли, включение и отключение учётных записей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
	"github.com/securefileshare/access-module/internal/repository"
)

// UserAdminService — сервис управления пользователями.
type UserAdminService struct {
	users  repository.UserRepository
	audit  *AuditService
	logger *slog.Logger
}

// NewUserAdminService создаёт сервис управления пользователями.
func NewUserAdminService(users repository.UserRepository, audit *AuditService, logger *slog.Logger) *UserAdminService {
	return &UserAdminService{
		users:  users,
		audit:  audit,
		logger: logger.With(slog.String("component", "user_admin_service")),
	}
}

// List возвращает пользователей постранично.
// Доступно ролям с разрешением USER_MANAGEMENT; аудитор получает
// список в режиме read-only, и просмотр фиксируется в журнале.
func (s *UserAdminService) List(ctx context.Context, actor model.Actor, origin model.Origin, limit, offset int) ([]*model.User, error) {
	canManage := rbac.HasPermission(actor.Role, rbac.PermUserManagement)
	isAuditor := actor.Role == rbac.RoleAuditor
	if !canManage && !isAuditor {
		return nil, fmt.Errorf("%w: список пользователей недоступен роли %s", ErrForbidden, actor.Role)
	}
	if limit < 1 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("выборка пользователей: %w", err)
	}
	if isAuditor {
		s.audit.Record(ctx, Event{
			Actor:        actor,
			Action:       model.ActionViewUserMeta,
			ResourceType: model.ResourceUser,
			Details:      "Просмотр списка пользователей аудитором",
			Origin:       origin,
		})
	}
	return users, nil
}

// GetByID возвращает пользователя.
func (s *UserAdminService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.User, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermUserManagement) && actor.Role != rbac.RoleAuditor && actor.UserID != id {
		return nil, fmt.Errorf("%w: карточка пользователя недоступна", ErrForbidden)
	}
	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateRole меняет роль пользователя.
// Требуется разрешение ROLE_MANAGEMENT; менять роль можно только
// пользователю, которого актор строго превосходит по рангу, и только
// на роль не выше собственной. Себе роль не меняют.
func (s *UserAdminService) UpdateRole(ctx context.Context, actor model.Actor, origin model.Origin, id string, newRole rbac.Role) (*model.User, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermRoleManagement) {
		return nil, fmt.Errorf("%w: смена ролей требует ROLE_MANAGEMENT", ErrForbidden)
	}
	if actor.UserID == id {
		return nil, fmt.Errorf("%w: собственную роль менять нельзя", ErrForbidden)
	}
	if !rbac.IsValid(newRole) {
		return nil, fmt.Errorf("%w: неизвестная роль %q", ErrInvalidRole, string(newRole))
	}

	target, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rbac.Outranks(actor.Role, target.Role) {
		return nil, fmt.Errorf("%w: нельзя менять роль пользователя ранга %s", ErrForbidden, target.Role)
	}
	if rbac.Outranks(newRole, actor.Role) {
		return nil, fmt.Errorf("%w: нельзя назначить роль выше собственной", ErrForbidden)
	}
	if target.Role == newRole {
		return target, nil
	}

	if err := s.users.UpdateRole(ctx, id, newRole); err != nil {
		return nil, fmt.Errorf("смена роли: %w", err)
	}
	old := target.Role
	target.Role = newRole

	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       model.ActionRoleUpdate,
		ResourceType: model.ResourceUser,
		ResourceID:   target.ID,
		Details:      fmt.Sprintf("Роль пользователя %s: %s -> %s", target.Username, old, newRole),
		Origin:       origin,
	})

	s.logger.Info("Роль пользователя изменена",
		slog.String("user_id", target.ID),
		slog.String("from", string(old)),
		slog.String("to", string(newRole)),
		slog.String("changed_by", actor.Username),
	)
	return target, nil
}

// SetActive включает или отключает учётную запись.
// Требуется USER_MANAGEMENT; себя отключить нельзя; отключать можно
// только пользователя, которого актор строго превосходит по рангу.
func (s *UserAdminService) SetActive(ctx context.Context, actor model.Actor, origin model.Origin, id string, active bool) (*model.User, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermUserManagement) {
		return nil, fmt.Errorf("%w: управление учётными записями требует USER_MANAGEMENT", ErrForbidden)
	}
	if actor.UserID == id && !active {
		return nil, fmt.Errorf("%w: собственную учётную запись отключить нельзя", ErrForbidden)
	}

	target, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rbac.Outranks(actor.Role, target.Role) {
		return nil, fmt.Errorf("%w: нельзя управлять учётной записью ранга %s", ErrForbidden, target.Role)
	}
	if target.Active == active {
		return target, nil
	}

	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("смена состояния учётной записи: %w", err)
	}
	target.Active = active

	action := model.ActionUserEnabled
	details := fmt.Sprintf("Включена учётная запись %s", target.Username)
	if !active {
		action = model.ActionUserDisabled
		details = fmt.Sprintf("Отключена учётная запись %s", target.Username)
	}
	s.audit.Record(ctx, Event{
		Actor:        actor,
		Action:       action,
		ResourceType: model.ResourceUser,
		ResourceID:   target.ID,
		Details:      details,
		Origin:       origin,
	})

	s.logger.Info("Состояние учётной записи изменено",
		slog.String("user_id", target.ID),
		slog.Bool("active", active),
		slog.String("changed_by", actor.Username),
	)
	return target, nil
}

func (s *UserAdminService) getUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return u, nil
}
