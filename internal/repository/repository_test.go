package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/securefileshare/access-module/internal/config"
	"github.com/securefileshare/access-module/internal/database"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool и функцию очистки.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("fileshare_test"),
		postgres.WithUsername("fileshare"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("ACM_DB_HOST", host)
	os.Setenv("ACM_DB_PORT", port.Port())
	os.Setenv("ACM_DB_NAME", "fileshare_test")
	os.Setenv("ACM_DB_USER", "fileshare")
	os.Setenv("ACM_DB_PASSWORD", "test-password")
	os.Setenv("ACM_DB_SSL_MODE", "disable")
	os.Setenv("ACM_IDP_URL", "http://localhost:8080")
	os.Setenv("ACM_STORAGE_SECRET", "test-secret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// insertUser создаёт пользователя напрямую: учётные записи заводит
// аутентификационный коллаборатор, у репозитория нет Create.
func insertUser(t *testing.T, pool *pgxpool.Pool, username string, role rbac.Role) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, username, email, role) VALUES ($1, $2, $3, $4)`,
		id, username, username+"@test.lan", string(role),
	)
	if err != nil {
		t.Fatalf("Не удалось создать пользователя %s: %v", username, err)
	}
	return id
}

// insertFile создаёт запись файла через репозиторий.
func insertFile(t *testing.T, pool *pgxpool.Pool, ownerID string, visibility model.Visibility) *model.File {
	t.Helper()
	f := &model.File{
		ID:          uuid.NewString(),
		FileName:    "contract.pdf",
		StoragePath: uuid.NewString() + ".enc",
		ContentType: "application/pdf",
		SizeBytes:   2048,
		Visibility:  visibility,
		OwnerID:     ownerID,
		UploadedAt:  time.Now().UTC(),
	}
	if err := NewFileRepository(pool).Create(context.Background(), f); err != nil {
		t.Fatalf("Не удалось создать файл: %v", err)
	}
	return f
}

// --- Тесты UserRepository ---

func TestUserRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	aliceID := insertUser(t, pool, "alice", rbac.RoleUser)
	insertUser(t, pool, "bob", rbac.RoleAdmin)

	// GetByID
	u, err := repo.GetByID(ctx, aliceID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, хотели alice", u.Username)
	}
	if u.Role != rbac.RoleUser {
		t.Errorf("Role = %q, хотели USER", u.Role)
	}
	if !u.Active {
		t.Error("новая учётная запись должна быть активна")
	}

	// GetByUsername
	if _, err := repo.GetByUsername(ctx, "bob"); err != nil {
		t.Errorf("GetByUsername() ошибка: %v", err)
	}
	if _, err := repo.GetByUsername(ctx, "no-such"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByUsername(no-such): %v, хотели ErrNotFound", err)
	}

	// List
	list, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() вернул %d записей, хотели 2", len(list))
	}

	// UpdateRole
	if err := repo.UpdateRole(ctx, aliceID, rbac.RoleAuditor); err != nil {
		t.Fatalf("UpdateRole() ошибка: %v", err)
	}
	u, _ = repo.GetByID(ctx, aliceID)
	if u.Role != rbac.RoleAuditor {
		t.Errorf("Role после UpdateRole = %q, хотели AUDITOR", u.Role)
	}

	// SetActive
	if err := repo.SetActive(ctx, aliceID, false); err != nil {
		t.Fatalf("SetActive() ошибка: %v", err)
	}
	u, _ = repo.GetByID(ctx, aliceID)
	if u.Active {
		t.Error("учётная запись должна быть отключена")
	}

	// Несуществующий пользователь
	if err := repo.UpdateRole(ctx, uuid.NewString(), rbac.RoleUser); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRole несуществующего: %v, хотели ErrNotFound", err)
	}
}

// --- Тесты FileRepository ---

func TestFileRepositoryCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	ownerID := insertUser(t, pool, "owner", rbac.RoleUser)
	f := insertFile(t, pool, ownerID, model.VisibilityPrivate)

	// GetByID подтягивает имя владельца через join
	got, err := repo.GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.OwnerUsername != "owner" {
		t.Errorf("OwnerUsername = %q, хотели owner", got.OwnerUsername)
	}
	if got.Visibility != model.VisibilityPrivate {
		t.Errorf("Visibility = %q, хотели PRIVATE", got.Visibility)
	}
	if got.Deleted {
		t.Error("новый файл не должен быть помечен удалённым")
	}

	// Повторная регистрация того же ID — конфликт
	if err := repo.Create(ctx, f); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create: %v, хотели ErrConflict", err)
	}

	// UpdateVisibility
	if err := repo.UpdateVisibility(ctx, f.ID, model.VisibilityProtected); err != nil {
		t.Fatalf("UpdateVisibility() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, f.ID)
	if got.Visibility != model.VisibilityProtected {
		t.Errorf("Visibility = %q, хотели PROTECTED", got.Visibility)
	}

	// SoftDelete исключает файл из листинга, но не из GetByID
	if err := repo.SoftDelete(ctx, f.ID); err != nil {
		t.Fatalf("SoftDelete() ошибка: %v", err)
	}
	list, err := repo.List(ctx, false, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("листинг после SoftDelete вернул %d записей, хотели 0", len(list))
	}
	listAll, err := repo.List(ctx, true, 10, 0)
	if err != nil {
		t.Fatalf("List(includeDeleted) ошибка: %v", err)
	}
	if len(listAll) != 1 || !listAll[0].Deleted {
		t.Error("List(includeDeleted) должен вернуть помеченный файл")
	}
	if _, err := repo.GetByID(ctx, f.ID); err != nil {
		t.Errorf("GetByID после SoftDelete: %v", err)
	}

	// Повторный SoftDelete — ErrNotFound (строка уже помечена)
	if err := repo.SoftDelete(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный SoftDelete: %v, хотели ErrNotFound", err)
	}

	// Count
	n, err := repo.Count(ctx, true)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if n != 1 {
		t.Errorf("Count(includeDeleted) = %d, хотели 1", n)
	}
}

// --- Тесты AccessRequestRepository ---

func TestAccessRequestLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccessRequestRepository(pool)

	ownerID := insertUser(t, pool, "owner", rbac.RoleUser)
	adminID := insertUser(t, pool, "admin", rbac.RoleAdmin)
	f := insertFile(t, pool, ownerID, model.VisibilityProtected)

	req := &model.AccessRequest{
		ID:          uuid.NewString(),
		FileID:      f.ID,
		RequesterID: adminID,
		AccessType:  model.AccessDownload,
		Status:      model.StatusPending,
		Purpose:     "проверка договора",
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// GetByID подтягивает денормализованные поля
	got, err := repo.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.FileName != "contract.pdf" {
		t.Errorf("FileName = %q, хотели contract.pdf", got.FileName)
	}
	if got.OwnerUsername != "owner" || got.RequesterUsername != "admin" {
		t.Errorf("денормализация: owner=%q requester=%q", got.OwnerUsername, got.RequesterUsername)
	}
	if got.DecidedAt != nil || got.ExpiresAt != nil {
		t.Error("у PENDING-запроса DecidedAt и ExpiresAt должны быть nil")
	}

	// Входящие владельца и список запросившего
	inbox, err := repo.ListPendingForOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("ListPendingForOwner() ошибка: %v", err)
	}
	if len(inbox) != 1 {
		t.Errorf("входящих %d, хотели 1", len(inbox))
	}
	my, err := repo.ListByRequester(ctx, adminID)
	if err != nil {
		t.Fatalf("ListByRequester() ошибка: %v", err)
	}
	if len(my) != 1 {
		t.Errorf("запросов %d, хотели 1", len(my))
	}

	// Решение
	decidedAt := time.Now().UTC()
	expiresAt := decidedAt.Add(time.Hour)
	if err := repo.Decide(ctx, req.ID, model.StatusApproved, decidedAt, &expiresAt); err != nil {
		t.Fatalf("Decide() ошибка: %v", err)
	}

	// CAS: повторное решение не затрагивает строк
	if err := repo.Decide(ctx, req.ID, model.StatusRejected, decidedAt, nil); !errors.Is(err, ErrStateChanged) {
		t.Errorf("повторный Decide: %v, хотели ErrStateChanged", err)
	}

	got, _ = repo.GetByID(ctx, req.ID)
	if got.Status != model.StatusApproved {
		t.Errorf("Status = %q, хотели APPROVED", got.Status)
	}
}

func TestAccessRequestActiveGrant(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccessRequestRepository(pool)

	ownerID := insertUser(t, pool, "owner", rbac.RoleUser)
	adminID := insertUser(t, pool, "admin", rbac.RoleAdmin)
	f := insertFile(t, pool, ownerID, model.VisibilityProtected)

	now := time.Now().UTC()

	createApproved := func(accessType model.AccessType, decidedAt, expiresAt time.Time) string {
		req := &model.AccessRequest{
			ID:          uuid.NewString(),
			FileID:      f.ID,
			RequesterID: adminID,
			AccessType:  accessType,
			Status:      model.StatusPending,
			Purpose:     "цель",
			CreatedAt:   decidedAt.Add(-time.Minute),
		}
		if err := repo.Create(ctx, req); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		if err := repo.Decide(ctx, req.ID, model.StatusApproved, decidedAt, &expiresAt); err != nil {
			t.Fatalf("Decide() ошибка: %v", err)
		}
		return req.ID
	}

	// Истёкший грант не действует
	createApproved(model.AccessView, now.Add(-2*time.Hour), now.Add(-time.Hour))
	grant, err := repo.ActiveGrant(ctx, f.ID, adminID, now)
	if err != nil {
		t.Fatalf("ActiveGrant() ошибка: %v", err)
	}
	if grant != nil {
		t.Errorf("истёкший грант не должен действовать, получили %+v", grant)
	}

	// Действующий: выбирается самый свежий по времени решения
	createApproved(model.AccessView, now.Add(-time.Hour), now.Add(time.Hour))
	freshID := createApproved(model.AccessDownload, now.Add(-time.Minute), now.Add(time.Hour))

	grant, err = repo.ActiveGrant(ctx, f.ID, adminID, now)
	if err != nil {
		t.Fatalf("ActiveGrant() ошибка: %v", err)
	}
	if grant == nil || grant.ID != freshID {
		t.Errorf("ожидали самый свежий грант %s, получили %+v", freshID, grant)
	}

	// Чужой принципал гранта не имеет
	grant, err = repo.ActiveGrant(ctx, f.ID, ownerID, now)
	if err != nil {
		t.Fatalf("ActiveGrant() ошибка: %v", err)
	}
	if grant != nil {
		t.Errorf("гранта для чужого принципала быть не должно, получили %+v", grant)
	}

	// Граница истечения исключается: now == expires_at
	boundary := now.Add(time.Hour)
	grant, err = repo.ActiveGrant(ctx, f.ID, adminID, boundary)
	if err != nil {
		t.Fatalf("ActiveGrant() ошибка: %v", err)
	}
	if grant != nil {
		t.Errorf("при now == expires_at грант уже не действует, получили %+v", grant)
	}
}

func TestAccessRequestDeleteByFile(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccessRequestRepository(pool)

	ownerID := insertUser(t, pool, "owner", rbac.RoleUser)
	adminID := insertUser(t, pool, "admin", rbac.RoleAdmin)
	rootID := insertUser(t, pool, "root", rbac.RoleSuperAdmin)
	f := insertFile(t, pool, ownerID, model.VisibilityProtected)
	other := insertFile(t, pool, ownerID, model.VisibilityProtected)

	for _, requesterID := range []string{adminID, rootID} {
		req := &model.AccessRequest{
			ID:          uuid.NewString(),
			FileID:      f.ID,
			RequesterID: requesterID,
			AccessType:  model.AccessView,
			Status:      model.StatusPending,
			Purpose:     "цель",
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.Create(ctx, req); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	keep := &model.AccessRequest{
		ID:          uuid.NewString(),
		FileID:      other.ID,
		RequesterID: adminID,
		AccessType:  model.AccessView,
		Status:      model.StatusPending,
		Purpose:     "цель",
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(ctx, keep); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	n, err := repo.DeleteByFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("DeleteByFile() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("удалено %d запросов, хотели 2", n)
	}

	// Запросы другого файла не затронуты
	if _, err := repo.GetByID(ctx, keep.ID); err != nil {
		t.Errorf("запрос другого файла должен остаться: %v", err)
	}
}

// --- Тесты TxRunner ---

func TestTxRunnerRollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	ownerID := insertUser(t, pool, "owner", rbac.RoleUser)
	f := insertFile(t, pool, ownerID, model.VisibilityProtected)

	runner := NewTxRunner(pool)
	wantErr := errors.New("намеренный сбой")

	err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := NewFileRepository(tx).SoftDelete(ctx, f.ID); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunInTx: %v, хотели %v", err, wantErr)
	}

	// Откат: файл не помечен удалённым
	got, err := NewFileRepository(pool).GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Deleted {
		t.Error("транзакция должна была откатиться, файл помечен удалённым")
	}
}

// --- Тесты AuditRepository ---

func TestAuditRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAuditRepository(pool)

	username := "alice"
	role := string(rbac.RoleUser)
	fileName := "contract.pdf"

	insert := func(action model.AuditAction, outcome model.Outcome, at time.Time) *model.AuditEntry {
		e := &model.AuditEntry{
			Username:     &username,
			Role:         &role,
			Action:       action,
			ResourceType: model.ResourceFile,
			FileName:     &fileName,
			Outcome:      outcome,
			Details:      "тестовое событие",
			CreatedAt:    at,
		}
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() ошибка: %v", err)
		}
		return e
	}

	now := time.Now().UTC()
	first := insert(model.ActionUpload, model.OutcomeSuccess, now.Add(-2*time.Hour))
	insert(model.ActionDownload, model.OutcomeSuccess, now.Add(-time.Hour))
	insert(model.ActionDownloadDenied, model.OutcomeFailure, now)

	if first.ID == 0 {
		t.Error("Insert должен заполнить последовательный ID")
	}

	// Search без фильтров: новые первыми
	entries, err := repo.Search(ctx, AuditFilters{}, 10, 0)
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Search() вернул %d записей, хотели 3", len(entries))
	}
	if entries[0].Action != model.ActionDownloadDenied {
		t.Errorf("первая запись = %q, хотели DOWNLOAD_DENIED (новые первыми)", entries[0].Action)
	}

	// Фильтр по действию
	action := string(model.ActionDownload)
	entries, err = repo.Search(ctx, AuditFilters{Action: &action}, 10, 0)
	if err != nil {
		t.Fatalf("Search() ошибка: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("фильтр по действию вернул %d записей, хотели 1", len(entries))
	}

	// Подстрочный фильтр по имени актора без учёта регистра
	sub := "ALI"
	n, err := repo.Count(ctx, AuditFilters{Username: &sub})
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if n != 3 {
		t.Errorf("Count(username~ALI) = %d, хотели 3", n)
	}

	// Временное окно
	from := now.Add(-90 * time.Minute)
	n, err = repo.Count(ctx, AuditFilters{From: &from})
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("Count(from) = %d, хотели 2", n)
	}

	// GetByID
	got, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Action != model.ActionUpload {
		t.Errorf("Action = %q, хотели UPLOAD", got.Action)
	}

	// Значения фильтров и агрегаты
	actions, err := repo.DistinctActions(ctx)
	if err != nil {
		t.Fatalf("DistinctActions() ошибка: %v", err)
	}
	if len(actions) != 3 {
		t.Errorf("DistinctActions вернул %d значений, хотели 3", len(actions))
	}
	failures, err := repo.CountByOutcome(ctx, model.OutcomeFailure)
	if err != nil {
		t.Fatalf("CountByOutcome() ошибка: %v", err)
	}
	if failures != 1 {
		t.Errorf("CountByOutcome(FAILURE) = %d, хотели 1", failures)
	}
	downloads, err := repo.CountByAction(ctx, model.ActionDownload)
	if err != nil {
		t.Fatalf("CountByAction() ошибка: %v", err)
	}
	if downloads != 1 {
		t.Errorf("CountByAction(DOWNLOAD) = %d, хотели 1", downloads)
	}
}
