// mocks_test.go — моки репозиториев для unit-тестов сервисного слоя.
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
	"github.com/securefileshare/access-module/internal/repository"
)

// testLogger — логгер, пишущий в никуда.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock — фиксированный момент времени для детерминированных тестов.
var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// --- Mock AuditRepository ---

// mockAuditRepo — мок AuditRepository, накапливающий вставленные записи.
type mockAuditRepo struct {
	entries  []*model.AuditEntry
	insertFn func(ctx context.Context, e *model.AuditEntry) error
}

func (m *mockAuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, e)
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, _ repository.AuditFilters, limit, offset int) ([]*model.AuditEntry, error) {
	if offset >= len(m.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	return m.entries[offset:end], nil
}

func (m *mockAuditRepo) Count(_ context.Context, _ repository.AuditFilters) (int, error) {
	return len(m.entries), nil
}

func (m *mockAuditRepo) GetByID(_ context.Context, id int64) (*model.AuditEntry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockAuditRepo) DistinctActions(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, e := range m.entries {
		if !seen[string(e.Action)] {
			seen[string(e.Action)] = true
			out = append(out, string(e.Action))
		}
	}
	return out, nil
}

func (m *mockAuditRepo) DistinctUsernames(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, e := range m.entries {
		if e.Username != nil && !seen[*e.Username] {
			seen[*e.Username] = true
			out = append(out, *e.Username)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) CountByOutcome(_ context.Context, outcome model.Outcome) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n, nil
}

func (m *mockAuditRepo) CountByAction(_ context.Context, action model.AuditAction) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n, nil
}

// lastEntry возвращает последнюю вставленную запись или nil.
func (m *mockAuditRepo) lastEntry() *model.AuditEntry {
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// newTestAudit создаёт AuditService поверх мока с фиксированными часами.
func newTestAudit(repo *mockAuditRepo) *AuditService {
	svc := NewAuditService(repo, testLogger())
	svc.now = func() time.Time { return testClock }
	return svc
}

// --- Mock FileRepository ---

// mockFileRepo — мок FileRepository: файлы в памяти по ID.
type mockFileRepo struct {
	files      map[string]*model.File
	createFn   func(ctx context.Context, f *model.File) error
	listFn     func(ctx context.Context, includeDeleted bool, limit, offset int) ([]*model.File, error)
	getByIDErr error
}

func (m *mockFileRepo) Create(ctx context.Context, f *model.File) error {
	if m.createFn != nil {
		return m.createFn(ctx, f)
	}
	if m.files == nil {
		m.files = map[string]*model.File{}
	}
	m.files[f.ID] = f
	return nil
}

func (m *mockFileRepo) GetByID(_ context.Context, fileID string) (*model.File, error) {
	if m.getByIDErr != nil {
		return nil, m.getByIDErr
	}
	f, ok := m.files[fileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f, nil
}

func (m *mockFileRepo) List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*model.File, error) {
	if m.listFn != nil {
		return m.listFn(ctx, includeDeleted, limit, offset)
	}
	var out []*model.File
	for _, f := range m.files {
		if f.Deleted && !includeDeleted {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *mockFileRepo) UpdateVisibility(_ context.Context, fileID string, v model.Visibility) error {
	f, ok := m.files[fileID]
	if !ok {
		return repository.ErrNotFound
	}
	f.Visibility = v
	return nil
}

func (m *mockFileRepo) SoftDelete(_ context.Context, fileID string) error {
	f, ok := m.files[fileID]
	if !ok {
		return repository.ErrNotFound
	}
	f.Deleted = true
	return nil
}

func (m *mockFileRepo) Count(_ context.Context, includeDeleted bool) (int, error) {
	n := 0
	for _, f := range m.files {
		if f.Deleted && !includeDeleted {
			continue
		}
		n++
	}
	return n, nil
}

// --- Mock AccessRequestRepository ---

// mockRequestRepo — мок AccessRequestRepository: запросы в памяти по ID.
type mockRequestRepo struct {
	requests map[string]*model.AccessRequest
	decideFn func(ctx context.Context, id string, status model.RequestStatus, decidedAt time.Time, expiresAt *time.Time) error
}

func (m *mockRequestRepo) Create(_ context.Context, req *model.AccessRequest) error {
	if m.requests == nil {
		m.requests = map[string]*model.AccessRequest{}
	}
	m.requests[req.ID] = req
	return nil
}

func (m *mockRequestRepo) GetByID(_ context.Context, id string) (*model.AccessRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return req, nil
}

func (m *mockRequestRepo) Decide(ctx context.Context, id string, status model.RequestStatus, decidedAt time.Time, expiresAt *time.Time) error {
	if m.decideFn != nil {
		return m.decideFn(ctx, id, status, decidedAt, expiresAt)
	}
	req, ok := m.requests[id]
	if !ok {
		return repository.ErrNotFound
	}
	if req.Status != model.StatusPending {
		return repository.ErrStateChanged
	}
	req.Status = status
	req.DecidedAt = &decidedAt
	req.ExpiresAt = expiresAt
	return nil
}

func (m *mockRequestRepo) ActiveGrant(_ context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error) {
	var best *model.AccessRequest
	for _, req := range m.requests {
		if req.FileID != fileID || req.RequesterID != requesterID || !req.ActiveAt(now) {
			continue
		}
		if best == nil || req.DecidedAt.After(*best.DecidedAt) {
			best = req
		}
	}
	return best, nil
}

func (m *mockRequestRepo) DeleteByFile(_ context.Context, fileID string) (int, error) {
	n := 0
	for id, req := range m.requests {
		if req.FileID == fileID {
			delete(m.requests, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRequestRepo) ListPendingForOwner(_ context.Context, _ string) ([]*model.AccessRequest, error) {
	var out []*model.AccessRequest
	for _, req := range m.requests {
		if req.Status == model.StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *mockRequestRepo) ListByRequester(_ context.Context, requesterID string) ([]*model.AccessRequest, error) {
	var out []*model.AccessRequest
	for _, req := range m.requests {
		if req.RequesterID == requesterID {
			out = append(out, req)
		}
	}
	return out, nil
}

// --- Mock UserRepository ---

// mockUserRepo — мок UserRepository: пользователи в памяти по ID.
type mockUserRepo struct {
	users        map[string]*model.User
	updateRoleFn func(ctx context.Context, id string, role rbac.Role) error
	setActiveFn  func(ctx context.Context, id string, active bool) error
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) List(_ context.Context, _, _ int) ([]*model.User, error) {
	var out []*model.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role rbac.Role) error {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, id, role)
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *mockUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Active = active
	return nil
}
