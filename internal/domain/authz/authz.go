// Пакет authz — движок решений авторизации.
// Три чистые функции решения над (принципал, файл, now) без побочных
// эффектов: аудит решений — обязанность вызывающего. Для PROTECTED-файлов
// движок опрашивает GrantSource о действующем гранте.
//
// Порядок проверок фиксирован: сначала аудитор (всегда отказ для
// content-bearing путей), затем владелец и административный override
// (всегда разрешение), и только потом видимость/грант.
package authz

import (
	"context"
	"time"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// GrantSource — источник действующих грантов (AccessRequestWorkflow).
// ActiveGrant возвращает самый свежий по времени решения APPROVED-запрос
// пары (файл, принципал), чей expires_at строго позже now, либо nil.
type GrantSource interface {
	ActiveGrant(ctx context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error)
}

// Engine — движок решений. Внутреннего состояния не имеет,
// любое число решений может выполняться параллельно.
type Engine struct {
	grants GrantSource
}

// New создаёт движок решений поверх источника грантов.
func New(grants GrantSource) *Engine {
	return &Engine{grants: grants}
}

// CanViewMetadata решает, видит ли принципал базовые метаданные файла.
// Аудитор не видит файлы через обычные листинги: у него отдельный
// metadata-only путь в аудиторском интерфейсе.
func (e *Engine) CanViewMetadata(ctx context.Context, u *model.User, f *model.File, now time.Time) (bool, error) {
	if u == nil || f == nil {
		return false, nil
	}
	if u.Role == rbac.RoleAuditor {
		return false, nil
	}
	if f.OwnerID == u.ID {
		return true, nil
	}
	if rbac.IsAdminClass(u.Role) {
		return true, nil
	}
	// Для остальных удалённый файл неотличим от несуществующего.
	if f.Deleted {
		return false, nil
	}

	switch f.Visibility {
	case model.VisibilityPrivate:
		return false, nil
	case model.VisibilityPublic:
		return true, nil
	case model.VisibilityProtected:
		return e.hasActiveGrant(ctx, u, f, model.AccessView, now)
	default:
		// Неизвестная видимость трактуется как PRIVATE.
		return false, nil
	}
}

// CanViewSensitiveMetadata решает доступ к чувствительным полям
// (purpose, category). Требует CanViewMetadata и дополнительно:
// владелец, либо действующий VIEW-или-сильнее грант, либо
// админ-класс при PUBLIC-файле.
func (e *Engine) CanViewSensitiveMetadata(ctx context.Context, u *model.User, f *model.File, now time.Time) (bool, error) {
	ok, err := e.CanViewMetadata(ctx, u, f, now)
	if err != nil || !ok {
		return false, err
	}
	if f.OwnerID == u.ID {
		return true, nil
	}
	if f.Visibility == model.VisibilityPublic && rbac.IsAdminClass(u.Role) {
		return true, nil
	}
	return e.hasActiveGrant(ctx, u, f, model.AccessView, now)
}

// CanDownloadContent решает, может ли принципал получить расшифрованное
// содержимое файла. VIEW-грант скачивание не разрешает.
func (e *Engine) CanDownloadContent(ctx context.Context, u *model.User, f *model.File, now time.Time) (bool, error) {
	if u == nil || f == nil {
		return false, nil
	}
	if u.Role == rbac.RoleAuditor {
		return false, nil
	}
	if f.OwnerID == u.ID {
		return true, nil
	}
	if rbac.IsAdminClass(u.Role) {
		return true, nil
	}
	if f.Deleted {
		return false, nil
	}

	switch f.Visibility {
	case model.VisibilityPrivate:
		return false, nil
	case model.VisibilityPublic:
		return true, nil
	case model.VisibilityProtected:
		return e.hasActiveGrant(ctx, u, f, model.AccessDownload, now)
	default:
		return false, nil
	}
}

// hasActiveGrant проверяет наличие действующего гранта нужного вида.
// Истечение гранта проверяется лениво, сравнением с now; фоновых
// чисток нет, просроченные строки безвредны до каскадного удаления.
func (e *Engine) hasActiveGrant(ctx context.Context, u *model.User, f *model.File, needed model.AccessType, now time.Time) (bool, error) {
	grant, err := e.grants.ActiveGrant(ctx, f.ID, u.ID, now)
	if err != nil {
		return false, err
	}
	if grant == nil {
		return false, nil
	}
	return grant.AccessType.Satisfies(needed), nil
}
