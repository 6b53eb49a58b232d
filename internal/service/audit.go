// audit.go — журнал аудита: запись и чтение.
// Запись best-effort: сбой персистентности журнала диагностируется
// в лог и метрику, но никогда не валит основную операцию.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/repository"
)

// Пределы чтения журнала.
const (
	// MaxPageSize — потолок размера страницы поиска.
	MaxPageSize = 100
	// DefaultPageSize — размер страницы по умолчанию.
	DefaultPageSize = 20
	// ExportRowCap — жёсткий потолок строк CSV-экспорта.
	ExportRowCap = 10000
)

// auditWriteFailures — счётчик проглоченных сбоев записи журнала.
var auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "acm_audit_write_failures_total",
	Help: "Количество сбоев записи в журнал аудита (проглочены by design)",
})

// Event — одно событие для записи в журнал.
// Timestamp не задаётся вызывающим: его присваивает журнал.
type Event struct {
	// Actor — инициатор; нулевое значение = system/anonymous.
	Actor model.Actor
	// Action — код события.
	Action model.AuditAction
	// ResourceType — тип ресурса.
	ResourceType model.ResourceType
	// ResourceID — идентификатор ресурса (опционально).
	ResourceID string
	// FileName — имя файла для файловых событий (опционально).
	FileName string
	// Outcome — исход; пустой считается SUCCESS.
	Outcome model.Outcome
	// Details — человекочитаемое описание.
	Details string
	// Origin — сетевое происхождение (опционально).
	Origin model.Origin
}

// AuditService — сервис журнала аудита.
type AuditService struct {
	repo   repository.AuditRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewAuditService создаёт сервис журнала аудита.
func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// Record записывает одно событие в журнал.
// Никогда не возвращает ошибку вызывающему: сбой персистентности
// журнала не должен валить операцию, которая его породила.
func (s *AuditService) Record(ctx context.Context, ev Event) {
	entry := &model.AuditEntry{
		Action:       ev.Action,
		ResourceType: ev.ResourceType,
		Outcome:      ev.Outcome,
		Details:      ev.Details,
		CreatedAt:    s.now().UTC(),
	}
	if entry.Outcome == "" {
		entry.Outcome = model.OutcomeSuccess
	}
	if entry.ResourceType == "" {
		entry.ResourceType = model.ResourceSystem
	}
	if !ev.Actor.IsZero() {
		entry.UserID = optional(ev.Actor.UserID)
		entry.Username = optional(ev.Actor.Username)
		entry.Role = optional(string(ev.Actor.Role))
	}
	entry.ResourceID = optional(ev.ResourceID)
	entry.FileName = optional(ev.FileName)
	entry.IPAddress = optional(ev.Origin.IPAddress)
	entry.UserAgent = optional(ev.Origin.UserAgent)

	if err := s.repo.Insert(ctx, entry); err != nil {
		auditWriteFailures.Inc()
		s.logger.Error("Сбой записи в журнал аудита",
			slog.String("action", string(ev.Action)),
			slog.String("error", err.Error()),
		)
	}
}

// SearchResult — страница результатов поиска по журналу.
type SearchResult struct {
	Entries    []*model.AuditEntry
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Search возвращает страницу записей журнала, новые первыми.
// Размер страницы клампится к MaxPageSize независимо от запрошенного.
func (s *AuditService) Search(ctx context.Context, filters repository.AuditFilters, page, pageSize int) (*SearchResult, error) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	entries, err := s.repo.Search(ctx, filters, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("поиск по журналу: %w", err)
	}

	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("подсчёт записей журнала: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize

	return &SearchResult{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// GetByID возвращает одну запись журнала.
func (s *AuditService) GetByID(ctx context.Context, id int64) (*model.AuditEntry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение записи журнала: %w", err)
	}
	return e, nil
}

// ExportCSV выгружает записи журнала по фильтрам в CSV.
// Выборка ограничена ExportRowCap строк, чтобы не раздуть память.
func (s *AuditService) ExportCSV(ctx context.Context, filters repository.AuditFilters) (string, error) {
	entries, err := s.repo.Search(ctx, filters, ExportRowCap, 0)
	if err != nil {
		return "", fmt.Errorf("выборка журнала для экспорта: %w", err)
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{
		"ID", "Timestamp", "Username", "Role", "Action", "Outcome",
		"Resource Type", "Resource ID", "File Name", "IP Address", "User Agent", "Details",
	})

	for _, e := range entries {
		_ = w.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			deref(e.Username),
			deref(e.Role),
			string(e.Action),
			string(e.Outcome),
			string(e.ResourceType),
			deref(e.ResourceID),
			deref(e.FileName),
			deref(e.IPAddress),
			truncate(deref(e.UserAgent), 50),
			e.Details,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("формирование CSV: %w", err)
	}
	return sb.String(), nil
}

// FilterOptions — доступные значения фильтров для UI.
type FilterOptions struct {
	Actions   []string `json:"actions"`
	Usernames []string `json:"usernames"`
	Outcomes  []string `json:"outcomes"`
}

// FilterOptions возвращает встречающиеся значения фильтров.
func (s *AuditService) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	actions, err := s.repo.DistinctActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("выборка кодов событий: %w", err)
	}
	usernames, err := s.repo.DistinctUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("выборка имён акторов: %w", err)
	}
	return &FilterOptions{
		Actions:   actions,
		Usernames: usernames,
		Outcomes:  []string{string(model.OutcomeSuccess), string(model.OutcomeFailure)},
	}, nil
}

// Stats — агрегаты журнала для сводных представлений.
type Stats struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Downloads int `json:"downloads"`
	Denied    int `json:"denied"`
}

// Stats возвращает дешёвые агрегаты по журналу.
func (s *AuditService) Stats(ctx context.Context) (*Stats, error) {
	successes, err := s.repo.CountByOutcome(ctx, model.OutcomeSuccess)
	if err != nil {
		return nil, fmt.Errorf("подсчёт успешных событий: %w", err)
	}
	failures, err := s.repo.CountByOutcome(ctx, model.OutcomeFailure)
	if err != nil {
		return nil, fmt.Errorf("подсчёт неуспешных событий: %w", err)
	}
	downloads, err := s.repo.CountByAction(ctx, model.ActionDownload)
	if err != nil {
		return nil, fmt.Errorf("подсчёт скачиваний: %w", err)
	}
	denied, err := s.repo.CountByAction(ctx, model.ActionDownloadDenied)
	if err != nil {
		return nil, fmt.Errorf("подсчёт отказов: %w", err)
	}
	return &Stats{Successes: successes, Failures: failures, Downloads: downloads, Denied: denied}, nil
}

// --- Вспомогательные функции ---

// optional возвращает nil для пустой строки.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref возвращает пустую строку для nil.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncate обрезает строку до n рун, не разрывая UTF-8 последовательности.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
