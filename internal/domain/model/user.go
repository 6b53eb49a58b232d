// Пакет model — доменные модели Access Module.
package model

import (
	"time"

	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// User — принципал системы. Создаётся аутентификационным
// коллаборатором (OTP-флоу), здесь только читается и управляется
// административными операциями (роль, флаг активности).
type User struct {
	// ID — UUID пользователя
	ID string
	// Username — имя пользователя
	Username string
	// Email — адрес электронной почты
	Email string
	// Role — нормализованная роль (rbac.Normalize на границе системы)
	Role rbac.Role
	// Active — активен ли аккаунт; неактивный принципал не аутентифицируется
	Active bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
}
