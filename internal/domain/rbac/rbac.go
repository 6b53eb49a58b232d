// Пакет rbac — закрытый набор ролей и их разрешений.
// Роли приходят из IdP в виде строк (исторически с префиксом "ROLE_");
// нормализация выполняется ровно один раз на границе системы (Normalize),
// дальше по коду сравниваются только значения типа Role.
package rbac

import "strings"

// Role — роль принципала. Закрытый набор, расширению не подлежит.
type Role string

// Роли. SUPER_ADMIN — строгое надмножество ADMIN.
const (
	RoleUser       Role = "USER"
	RoleAuditor    Role = "AUDITOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Permission — элемент пакета разрешений роли.
type Permission string

// Разрешения, раздаваемые ролям.
const (
	PermAdminAccess        Permission = "ADMIN_ACCESS"
	PermUserManagement     Permission = "USER_MANAGEMENT"
	PermFileUpload         Permission = "FILE_UPLOAD"
	PermFileDownload       Permission = "FILE_DOWNLOAD"
	PermFileShare          Permission = "FILE_SHARE"
	PermRoleManagement     Permission = "ROLE_MANAGEMENT"
	PermViewAuditLogs      Permission = "VIEW_AUDIT_LOGS"
	PermReports            Permission = "REPORTS"
	PermSettingsManagement Permission = "SETTINGS_MANAGEMENT"
)

// legacyRolePrefix — префикс строковых ролей исходной системы ("ROLE_ADMIN").
const legacyRolePrefix = "ROLE_"

// rolePermissions — пакет разрешений каждой роли.
// AUDITOR намеренно не имеет FILE_DOWNLOAD: аудитор никогда
// не получает содержимое файлов, только метаданные и журнал.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermFileUpload, PermFileDownload, PermFileShare,
	},
	RoleAuditor: {
		PermViewAuditLogs, PermReports,
	},
	RoleAdmin: {
		PermAdminAccess, PermUserManagement, PermFileUpload,
		PermFileDownload, PermFileShare, PermViewAuditLogs,
	},
	RoleSuperAdmin: {
		PermAdminAccess, PermUserManagement, PermFileUpload,
		PermFileDownload, PermFileShare, PermRoleManagement,
		PermViewAuditLogs, PermReports, PermSettingsManagement,
	},
}

// Normalize приводит строковую роль из IdP к значению Role.
// Убирает пробелы и legacy-префикс "ROLE_", приводит к верхнему регистру.
// Пустая или неизвестная строка — RoleUser (минимальные привилегии).
func Normalize(raw string) Role {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, legacyRolePrefix)

	switch Role(name) {
	case RoleUser, RoleAuditor, RoleAdmin, RoleSuperAdmin:
		return Role(name)
	default:
		return RoleUser
	}
}

// IsValid проверяет, принадлежит ли роль закрытому набору.
func IsValid(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permissions возвращает пакет разрешений роли.
// Для неизвестной роли — nil.
func Permissions(r Role) []Permission {
	return rolePermissions[r]
}

// HasPermission проверяет наличие разрешения в пакете роли.
func HasPermission(r Role, p Permission) bool {
	for _, perm := range rolePermissions[r] {
		if perm == p {
			return true
		}
	}
	return false
}

// IsAdminClass — ADMIN или SUPER_ADMIN (административный override).
func IsAdminClass(r Role) bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanRequestAccess — может ли роль запрашивать доступ к чужим
// PROTECTED-файлам. В исходной системе — только административные роли.
func CanRequestAccess(r Role) bool {
	return IsAdminClass(r)
}

// CanDecideAccess — может ли роль выносить решение по запросу доступа.
// Аудитор решений не принимает; владение файлом проверяется отдельно.
func CanDecideAccess(r Role) bool {
	return IsValid(r) && r != RoleAuditor
}

// Outranks сообщает, строго ли роль a привилегированнее роли b.
// Используется при управлении пользователями: ADMIN не трогает
// админ-класс, SUPER_ADMIN может менять ADMIN.
func Outranks(a, b Role) bool {
	return roleWeight(a) > roleWeight(b)
}

// roleWeight — вес роли для сравнения привилегий.
// AUDITOR и USER равны: ни один не привилегированнее другого.
func roleWeight(r Role) int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser, RoleAuditor:
		return 1
	default:
		return 0
	}
}
