package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/securefileshare/access-module/internal/domain/model"
)

// AuditRepository — append-only доступ к таблице audit_log.
// UPDATE и DELETE намеренно отсутствуют: записи журнала неизменяемы.
type AuditRepository interface {
	// Insert добавляет одну запись журнала.
	Insert(ctx context.Context, e *model.AuditEntry) error
	// Search возвращает страницу записей по фильтрам, новые первыми.
	Search(ctx context.Context, filters AuditFilters, limit, offset int) ([]*model.AuditEntry, error)
	// Count возвращает количество записей по фильтрам.
	Count(ctx context.Context, filters AuditFilters) (int, error)
	// GetByID возвращает запись по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.AuditEntry, error)
	// DistinctActions возвращает встречающиеся коды событий.
	DistinctActions(ctx context.Context) ([]string, error)
	// DistinctUsernames возвращает встречающиеся имена акторов.
	DistinctUsernames(ctx context.Context) ([]string, error)
	// CountByOutcome возвращает количество записей с данным исходом.
	CountByOutcome(ctx context.Context, outcome model.Outcome) (int, error)
	// CountByAction возвращает количество записей с данным кодом события.
	CountByAction(ctx context.Context, action model.AuditAction) (int, error)
}

// AuditFilters — фильтры поиска по журналу.
// Username и FileName — подстрочный поиск без учёта регистра,
// остальные — точное совпадение.
type AuditFilters struct {
	Username     *string
	Action       *string
	Outcome      *string
	ResourceType *string
	FileName     *string
	From         *time.Time
	To           *time.Time
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

const auditColumns = `
	id, user_id, username, role, action, resource_type, resource_id,
	file_name, outcome, ip_address, user_agent, details, created_at`

func scanAuditEntry(row pgx.Row) (*model.AuditEntry, error) {
	e := &model.AuditEntry{}
	var action, resourceType, outcome string
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Username, &e.Role, &action, &resourceType,
		&e.ResourceID, &e.FileName, &outcome, &e.IPAddress, &e.UserAgent,
		&e.Details, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Action = model.AuditAction(action)
	e.ResourceType = model.ResourceType(resourceType)
	e.Outcome = model.Outcome(outcome)
	return e, nil
}

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	query := `
		INSERT INTO audit_log (user_id, username, role, action, resource_type,
			resource_id, file_name, outcome, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		e.UserID, e.Username, e.Role, string(e.Action), string(e.ResourceType),
		e.ResourceID, e.FileName, string(e.Outcome), e.IPAddress, e.UserAgent,
		e.Details, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}
	return nil
}

// buildAuditWhere строит WHERE-условие и аргументы для фильтров журнала.
func buildAuditWhere(filters AuditFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	addCond := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filters.Username != nil {
		addCond("username ILIKE '%%' || $%d || '%%'", *filters.Username)
	}
	if filters.Action != nil {
		addCond("action = $%d", *filters.Action)
	}
	if filters.Outcome != nil {
		addCond("outcome = $%d", *filters.Outcome)
	}
	if filters.ResourceType != nil {
		addCond("resource_type = $%d", *filters.ResourceType)
	}
	if filters.FileName != nil {
		addCond("file_name ILIKE '%%' || $%d || '%%'", *filters.FileName)
	}
	if filters.From != nil {
		addCond("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		addCond("created_at <= $%d", *filters.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *auditRepo) Search(ctx context.Context, filters AuditFilters, limit, offset int) ([]*model.AuditEntry, error) {
	where, args := buildAuditWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT`+auditColumns+`
		FROM audit_log
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска по журналу аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, filters AuditFilters) (int, error) {
	where, args := buildAuditWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей журнала: %w", err)
	}
	return count, nil
}

func (r *auditRepo) GetByID(ctx context.Context, id int64) (*model.AuditEntry, error) {
	query := `SELECT` + auditColumns + ` FROM audit_log WHERE id = $1`

	e, err := scanAuditEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи журнала: %w", err)
	}
	return e, nil
}

func (r *auditRepo) DistinctActions(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT action FROM audit_log ORDER BY action`)
}

func (r *auditRepo) DistinctUsernames(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT username FROM audit_log WHERE username IS NOT NULL ORDER BY username`)
}

func (r *auditRepo) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки значений фильтра: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("ошибка сканирования значения фильтра: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *auditRepo) CountByOutcome(ctx context.Context, outcome model.Outcome) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE outcome = $1`, string(outcome)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта по исходу: %w", err)
	}
	return count, nil
}

func (r *auditRepo) CountByAction(ctx context.Context, action model.AuditAction) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE action = $1`, string(action)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта по коду события: %w", err)
	}
	return count, nil
}
