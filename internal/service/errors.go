// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — проверка роли или владения не прошла.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrInvalidState — операция неприменима к текущему состоянию
	// (запрос не PENDING, видимость файла не PROTECTED).
	ErrInvalidState = errors.New("недопустимое состояние для операции")
	// ErrInvalidRole — роль не даёт права на операцию.
	ErrInvalidRole = errors.New("роль не даёт права на операцию")
	// ErrSelfRequest — владелец запрашивает доступ к собственному файлу.
	ErrSelfRequest = errors.New("владельцу не нужен запрос доступа")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
