package model

import "time"

// Visibility — уровень доступа к файлу.
type Visibility string

// Уровни видимости файла.
const (
	// VisibilityPrivate — только владелец.
	VisibilityPrivate Visibility = "PRIVATE"
	// VisibilityPublic — все принципалы, кроме аудитора.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityProtected — владелец плюс одобренные временные гранты.
	VisibilityProtected Visibility = "PROTECTED"
)

// ParseVisibility возвращает Visibility для строки или false,
// если значение вне закрытого набора.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case VisibilityPrivate, VisibilityPublic, VisibilityProtected:
		return Visibility(s), true
	default:
		return "", false
	}
}

// File — запись файла. Байты хранятся зашифрованными в byte store
// по StoragePath; здесь только метаданные и состояние доступа.
type File struct {
	// ID — UUID файла
	ID string
	// FileName — оригинальное имя файла
	FileName string
	// StoragePath — ключ зашифрованного блоба в byte store.
	// Никогда не сериализуется наружу.
	StoragePath string
	// ContentType — MIME-тип
	ContentType string
	// SizeBytes — размер открытого содержимого в байтах
	SizeBytes int64
	// Visibility — уровень доступа (мутируется только владельцем)
	Visibility Visibility
	// Purpose — назначение файла (чувствительное поле, выдаётся отдельно)
	Purpose *string
	// Category — категория файла (чувствительное поле)
	Category *string
	// OwnerID — UUID владельца, неизменяем после создания
	OwnerID string
	// OwnerUsername — денормализованное имя владельца для выдачи без join
	OwnerUsername string
	// UploadedAt — время загрузки
	UploadedAt time.Time
	// Deleted — soft delete; владелец сохраняет права до физического удаления
	Deleted bool
}

// FileMetadata — проекция файла для выдачи наружу.
// StoragePath сюда не попадает. Purpose/Category заполняются только
// когда движок авторизации разрешил чувствительные метаданные.
type FileMetadata struct {
	ID            string     `json:"id"`
	FileName      string     `json:"file_name"`
	OwnerUsername string     `json:"owner_username"`
	SizeBytes     int64      `json:"size_bytes"`
	ContentType   string     `json:"content_type"`
	Visibility    Visibility `json:"visibility"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	Purpose       *string    `json:"purpose,omitempty"`
	Category      *string    `json:"category,omitempty"`
}

// Metadata строит проекцию файла для выдачи наружу.
// Purpose и Category включаются только при sensitive=true.
func (f *File) Metadata(sensitive bool) FileMetadata {
	m := FileMetadata{
		ID:            f.ID,
		FileName:      f.FileName,
		OwnerUsername: f.OwnerUsername,
		SizeBytes:     f.SizeBytes,
		ContentType:   f.ContentType,
		Visibility:    f.Visibility,
		UploadedAt:    f.UploadedAt,
	}
	if sensitive {
		m.Purpose = f.Purpose
		m.Category = f.Category
	}
	return m
}
