package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/securefileshare/access-module/internal/domain/model"
)

// FileRepository — CRUD для таблицы files.
// Мутации видимости и soft delete выполняются только владельцем
// (проверка — в сервисном слое) и в одной транзакции с каскадным
// удалением запросов доступа.
type FileRepository interface {
	// Create создаёт запись файла.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по UUID.
	GetByID(ctx context.Context, fileID string) (*model.File, error)
	// List возвращает файлы постранично, новые первыми.
	// Soft-deleted файлы исключаются из обычных листингов.
	List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*model.File, error)
	// UpdateVisibility меняет уровень доступа файла.
	UpdateVisibility(ctx context.Context, fileID string, v model.Visibility) error
	// SoftDelete помечает файл удалённым.
	SoftDelete(ctx context.Context, fileID string) error
	// Count возвращает количество файлов.
	Count(ctx context.Context, includeDeleted bool) (int, error)
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// fileColumns — столбцы files с join на владельца.
const fileColumns = `
	f.id, f.file_name, f.storage_path, f.content_type, f.size_bytes,
	f.visibility, f.purpose, f.category, f.owner_id, u.username,
	f.uploaded_at, f.deleted`

func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	var visibility string
	if err := row.Scan(
		&f.ID, &f.FileName, &f.StoragePath, &f.ContentType, &f.SizeBytes,
		&visibility, &f.Purpose, &f.Category, &f.OwnerID, &f.OwnerUsername,
		&f.UploadedAt, &f.Deleted,
	); err != nil {
		return nil, err
	}
	f.Visibility = model.Visibility(visibility)
	return f, nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	query := `
		INSERT INTO files (id, file_name, storage_path, content_type, size_bytes,
			visibility, purpose, category, owner_id, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.FileName, f.StoragePath, f.ContentType, f.SizeBytes,
		string(f.Visibility), f.Purpose, f.Category, f.OwnerID, f.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким ID уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.File, error) {
	query := `
		SELECT` + fileColumns + `
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE f.id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*model.File, error) {
	query := `
		SELECT` + fileColumns + `
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE ($1 OR NOT f.deleted)
		ORDER BY f.uploaded_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, includeDeleted, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) UpdateVisibility(ctx context.Context, fileID string, v model.Visibility) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET visibility = $2 WHERE id = $1`, fileID, string(v))
	if err != nil {
		return fmt.Errorf("ошибка смены видимости файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) SoftDelete(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET deleted = TRUE WHERE id = $1 AND NOT deleted`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) Count(ctx context.Context, includeDeleted bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM files WHERE ($1 OR NOT deleted)`, includeDeleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}
