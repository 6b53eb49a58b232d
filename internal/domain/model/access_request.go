package model

import "time"

// AccessType — вид запрашиваемого доступа.
// DOWNLOAD включает VIEW; VIEW не включает DOWNLOAD.
type AccessType string

// Виды доступа.
const (
	AccessView     AccessType = "VIEW"
	AccessDownload AccessType = "DOWNLOAD"
)

// ParseAccessType возвращает AccessType для строки или false,
// если значение вне закрытого набора.
func ParseAccessType(s string) (AccessType, bool) {
	switch AccessType(s) {
	case AccessView, AccessDownload:
		return AccessType(s), true
	default:
		return "", false
	}
}

// IsValid сообщает, входит ли значение в закрытый набор.
func (a AccessType) IsValid() bool {
	return a == AccessView || a == AccessDownload
}

// Satisfies сообщает, покрывает ли выданный вид доступа требуемый.
func (a AccessType) Satisfies(needed AccessType) bool {
	if needed == AccessView {
		return true
	}
	return a == AccessDownload
}

// RequestStatus — статус запроса доступа.
// PENDING — единственное начальное состояние; APPROVED и REJECTED терминальны.
type RequestStatus string

// Статусы запроса.
const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// AccessRequest — запрос временного доступа к чужому PROTECTED-файлу.
// Решение выносится ровно один раз, владельцем файла.
type AccessRequest struct {
	// ID — UUID запроса
	ID string
	// FileID — UUID файла
	FileID string
	// FileName — денормализованное имя файла для выдачи без join
	FileName string
	// OwnerUsername — денормализованное имя владельца файла
	OwnerUsername string
	// RequesterID — UUID запросившего
	RequesterID string
	// RequesterUsername — денормализованное имя запросившего
	RequesterUsername string
	// AccessType — запрошенный вид доступа
	AccessType AccessType
	// Status — текущий статус
	Status RequestStatus
	// Purpose — обоснование запроса, непустое
	Purpose string
	// CreatedAt — время создания
	CreatedAt time.Time
	// DecidedAt — время решения (nil пока PENDING)
	DecidedAt *time.Time
	// ExpiresAt — истечение гранта; только у APPROVED, иначе nil.
	// Инвариант: ExpiresAt = DecidedAt + TTL (TTL >= 60s).
	ExpiresAt *time.Time
}

// ActiveAt сообщает, действует ли грант в момент now.
// Граница исключается: при now == ExpiresAt грант уже не действует.
func (r *AccessRequest) ActiveAt(now time.Time) bool {
	return r.Status == StatusApproved && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}
