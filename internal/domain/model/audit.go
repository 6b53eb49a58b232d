package model

import (
	"time"

	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// AuditAction — код события журнала аудита. Закрытый набор.
type AuditAction string

// Коды событий.
const (
	ActionUpload           AuditAction = "UPLOAD"
	ActionDownload         AuditAction = "DOWNLOAD"
	ActionDownloadDenied   AuditAction = "DOWNLOAD_DENIED"
	ActionDelete           AuditAction = "DELETE"
	ActionAccessRequest    AuditAction = "ACCESS_REQUEST"
	ActionAccessGrant      AuditAction = "ACCESS_GRANT"
	ActionAccessDeny       AuditAction = "ACCESS_DENY"
	ActionAccessRevoke     AuditAction = "ACCESS_REVOKE"
	ActionVisibilityUpdate AuditAction = "VISIBILITY_UPDATE"
	ActionRoleUpdate       AuditAction = "ROLE_UPDATE"
	ActionUserEnabled      AuditAction = "USER_ENABLED"
	ActionUserDisabled     AuditAction = "USER_DISABLED"
	ActionViewAuditLogs    AuditAction = "VIEW_AUDIT_LOGS"
	ActionExportAuditLogs  AuditAction = "EXPORT_AUDIT_LOGS"
	ActionViewFileMeta     AuditAction = "VIEW_FILE_METADATA"
	ActionViewUserMeta     AuditAction = "VIEW_USER_METADATA"
	ActionMetadataView     AuditAction = "METADATA_VIEW"
	ActionAdminFileAccess  AuditAction = "ADMIN_FILE_ACCESS"
)

// ResourceType — тип ресурса, к которому относится событие.
type ResourceType string

// Типы ресурсов.
const (
	ResourceFile          ResourceType = "FILE"
	ResourceUser          ResourceType = "USER"
	ResourceAccessRequest ResourceType = "ACCESS_REQUEST"
	ResourceSystem        ResourceType = "SYSTEM"
)

// Outcome — исход события.
type Outcome string

// Исходы.
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Actor — личность инициатора события.
// Нулевое значение означает system/anonymous (актор отсутствует).
type Actor struct {
	// UserID — UUID принципала
	UserID string
	// Username — имя принципала
	Username string
	// Role — роль принципала на момент события
	Role rbac.Role
}

// IsZero — true, если актор не заполнен (системное событие).
func (a Actor) IsZero() bool {
	return a.UserID == "" && a.Username == ""
}

// Origin — сетевое происхождение запроса.
type Origin struct {
	// IPAddress — IP клиента (с учётом X-Forwarded-For / X-Real-IP)
	IPAddress string
	// UserAgent — заголовок User-Agent
	UserAgent string
}

// AuditEntry — одна неизменяемая запись журнала аудита.
// Создаётся ровно один раз; обновление и удаление не предусмотрены.
type AuditEntry struct {
	// ID — последовательный идентификатор записи
	ID int64
	// UserID — UUID актора (пусто для системных событий)
	UserID *string
	// Username — имя актора
	Username *string
	// Role — роль актора
	Role *string
	// Action — код события
	Action AuditAction
	// ResourceType — тип ресурса
	ResourceType ResourceType
	// ResourceID — идентификатор ресурса (пусто для SYSTEM)
	ResourceID *string
	// FileName — денормализованное имя файла для выдачи без join
	FileName *string
	// Outcome — исход события
	Outcome Outcome
	// IPAddress — IP клиента
	IPAddress *string
	// UserAgent — user agent клиента
	UserAgent *string
	// Details — человекочитаемое описание
	Details string
	// CreatedAt — время записи; присваивается журналом, не вызывающим
	CreatedAt time.Time
}
