package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/securefileshare/access-module/internal/domain/model"
)

// AccessRequestRepository — доступ к таблице access_requests.
type AccessRequestRepository interface {
	// Create сохраняет новый PENDING-запрос.
	Create(ctx context.Context, req *model.AccessRequest) error
	// GetByID возвращает запрос по UUID.
	GetByID(ctx context.Context, id string) (*model.AccessRequest, error)
	// Decide переводит PENDING-запрос в терминальный статус.
	// Compare-and-swap по статусу: если запрос уже не PENDING,
	// возвращает ErrStateChanged — из двух гонящихся решений
	// коммитится только первое.
	Decide(ctx context.Context, id string, status model.RequestStatus, decidedAt time.Time, expiresAt *time.Time) error
	// ActiveGrant возвращает самый свежий по времени решения APPROVED-запрос
	// пары (файл, запросивший), чей expires_at строго позже now, либо nil.
	ActiveGrant(ctx context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error)
	// DeleteByFile удаляет все запросы файла (любой статус).
	// Каскад при уходе видимости из PROTECTED и при удалении файла.
	DeleteByFile(ctx context.Context, fileID string) (int, error)
	// ListPendingForOwner возвращает PENDING-запросы к файлам владельца,
	// новые первыми.
	ListPendingForOwner(ctx context.Context, ownerID string) ([]*model.AccessRequest, error)
	// ListByRequester возвращает запросы принципала, новые первыми.
	ListByRequester(ctx context.Context, requesterID string) ([]*model.AccessRequest, error)
}

type accessRequestRepo struct {
	db DBTX
}

// NewAccessRequestRepository создаёт репозиторий запросов доступа.
func NewAccessRequestRepository(db DBTX) AccessRequestRepository {
	return &accessRequestRepo{db: db}
}

// requestColumns — столбцы access_requests с денормализацией
// имени файла, владельца и запросившего.
const requestColumns = `
	r.id, r.file_id, f.file_name, o.username, r.requester_id, q.username,
	r.access_type, r.status, r.purpose, r.created_at, r.decided_at, r.expires_at`

const requestJoins = `
	FROM access_requests r
	JOIN files f ON f.id = r.file_id
	JOIN users o ON o.id = f.owner_id
	JOIN users q ON q.id = r.requester_id`

func scanRequest(row pgx.Row) (*model.AccessRequest, error) {
	req := &model.AccessRequest{}
	var accessType, status string
	if err := row.Scan(
		&req.ID, &req.FileID, &req.FileName, &req.OwnerUsername,
		&req.RequesterID, &req.RequesterUsername,
		&accessType, &status, &req.Purpose,
		&req.CreatedAt, &req.DecidedAt, &req.ExpiresAt,
	); err != nil {
		return nil, err
	}
	req.AccessType = model.AccessType(accessType)
	req.Status = model.RequestStatus(status)
	return req, nil
}

func (r *accessRequestRepo) Create(ctx context.Context, req *model.AccessRequest) error {
	query := `
		INSERT INTO access_requests (id, file_id, requester_id, access_type, status, purpose, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		req.ID, req.FileID, req.RequesterID,
		string(req.AccessType), string(req.Status), req.Purpose, req.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запрос с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания запроса доступа: %w", err)
	}
	return nil
}

func (r *accessRequestRepo) GetByID(ctx context.Context, id string) (*model.AccessRequest, error) {
	query := `SELECT` + requestColumns + requestJoins + `
	WHERE r.id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запроса доступа: %w", err)
	}
	return req, nil
}

func (r *accessRequestRepo) Decide(ctx context.Context, id string, status model.RequestStatus, decidedAt time.Time, expiresAt *time.Time) error {
	// Условие status='PENDING' в WHERE — CAS-защита перехода:
	// конкурентное решение того же запроса не затронет ни одной строки.
	query := `
		UPDATE access_requests
		SET status = $2, decided_at = $3, expires_at = $4
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.db.Exec(ctx, query, id, string(status), decidedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("ошибка решения по запросу доступа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

func (r *accessRequestRepo) ActiveGrant(ctx context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error) {
	// Просроченные строки не чистятся — истечение проверяется
	// сравнением expires_at > now (граница исключается).
	query := `SELECT` + requestColumns + requestJoins + `
	WHERE r.file_id = $1 AND r.requester_id = $2
		AND r.status = 'APPROVED' AND r.expires_at > $3
	ORDER BY r.decided_at DESC
	LIMIT 1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, fileID, requesterID, now))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка поиска действующего гранта: %w", err)
	}
	return req, nil
}

func (r *accessRequestRepo) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM access_requests WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("ошибка каскадного удаления запросов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *accessRequestRepo) ListPendingForOwner(ctx context.Context, ownerID string) ([]*model.AccessRequest, error) {
	query := `SELECT` + requestColumns + requestJoins + `
	WHERE f.owner_id = $1 AND r.status = 'PENDING'
	ORDER BY r.created_at DESC`

	return r.queryRequests(ctx, query, ownerID)
}

func (r *accessRequestRepo) ListByRequester(ctx context.Context, requesterID string) ([]*model.AccessRequest, error) {
	query := `SELECT` + requestColumns + requestJoins + `
	WHERE r.requester_id = $1
	ORDER BY r.created_at DESC`

	return r.queryRequests(ctx, query, requesterID)
}

func (r *accessRequestRepo) queryRequests(ctx context.Context, query string, args ...any) ([]*model.AccessRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка запросов: %w", err)
	}
	defer rows.Close()

	var result []*model.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования запроса: %w", err)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}
