// admin_users_test.go — unit-тесты управления пользователями.
package service

import (
	"context"
	"errors"
	"testing"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
)

var actorRoot = model.Actor{UserID: "root-1", Username: "root", Role: rbac.RoleSuperAdmin}

func newTestUserAdmin(users *mockUserRepo, audit *mockAuditRepo) *UserAdminService {
	return NewUserAdminService(users, newTestAudit(audit), testLogger())
}

func testUsers() map[string]*model.User {
	return map[string]*model.User{
		"root-1":  {ID: "root-1", Username: "root", Role: rbac.RoleSuperAdmin, Active: true},
		"admin-1": {ID: "admin-1", Username: "admin", Role: rbac.RoleAdmin, Active: true},
		"aud-1":   {ID: "aud-1", Username: "auditor", Role: rbac.RoleAuditor, Active: true},
		"owner-1": {ID: "owner-1", Username: "owner", Role: rbac.RoleUser, Active: true},
	}
}

func TestUserAdmin_List(t *testing.T) {
	users := &mockUserRepo{users: testUsers()}
	audit := &mockAuditRepo{}
	svc := newTestUserAdmin(users, audit)

	// Обычному пользователю список недоступен.
	if _, err := svc.List(context.Background(), actorOwner, testOrigin, 50, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("List обычным пользователем: %v, хотели ErrForbidden", err)
	}

	// Админ получает список без записи в журнал.
	out, err := svc.List(context.Background(), actorAdmin, testOrigin, 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 4 {
		t.Errorf("len = %d, хотели 4", len(out))
	}
	if audit.lastEntry() != nil {
		t.Error("просмотр списка админом не должен попадать в журнал")
	}

	// Просмотр аудитором фиксируется в журнале.
	if _, err := svc.List(context.Background(), actorAuditor, testOrigin, 50, 0); err != nil {
		t.Fatalf("List аудитором: %v", err)
	}
	e := audit.lastEntry()
	if e == nil || e.Action != model.ActionViewUserMeta {
		t.Errorf("ожидали запись VIEW_USER_METADATA, получили %+v", e)
	}
}

func TestUserAdmin_GetByID(t *testing.T) {
	svc := newTestUserAdmin(&mockUserRepo{users: testUsers()}, &mockAuditRepo{})

	tests := []struct {
		name    string
		actor   model.Actor
		id      string
		wantErr error
	}{
		{"админ видит любого", actorAdmin, "owner-1", nil},
		{"аудитор видит любого", actorAuditor, "owner-1", nil},
		{"пользователь видит себя", actorOwner, "owner-1", nil},
		{"пользователь не видит чужих", actorOwner, "admin-1", ErrForbidden},
		{"несуществующий пользователь", actorAdmin, "no-such", ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GetByID(context.Background(), tc.actor, tc.id)
			if tc.wantErr == nil && err != nil {
				t.Errorf("GetByID: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("GetByID: %v, хотели %v", err, tc.wantErr)
			}
		})
	}
}

func TestUserAdmin_UpdateRole(t *testing.T) {
	users := &mockUserRepo{users: testUsers()}
	audit := &mockAuditRepo{}
	svc := newTestUserAdmin(users, audit)

	u, err := svc.UpdateRole(context.Background(), actorRoot, testOrigin, "owner-1", rbac.RoleAdmin)
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if u.Role != rbac.RoleAdmin {
		t.Errorf("Role = %q, хотели ADMIN", u.Role)
	}

	e := audit.lastEntry()
	if e == nil || e.Action != model.ActionRoleUpdate {
		t.Errorf("ожидали запись ROLE_UPDATE, получили %+v", e)
	}
}

func TestUserAdmin_UpdateRole_Forbidden(t *testing.T) {
	tests := []struct {
		name    string
		actor   model.Actor
		id      string
		newRole rbac.Role
		wantErr error
	}{
		{"ADMIN без ROLE_MANAGEMENT", actorAdmin, "owner-1", rbac.RoleAuditor, ErrForbidden},
		{"собственная роль", actorRoot, "root-1", rbac.RoleAdmin, ErrForbidden},
		{"неизвестная роль", actorRoot, "owner-1", rbac.Role("MANAGER"), ErrInvalidRole},
		{
			"равный ранг неприкосновенен",
			model.Actor{UserID: "root-2", Username: "root2", Role: rbac.RoleSuperAdmin},
			"root-1", rbac.RoleAdmin, ErrForbidden,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestUserAdmin(&mockUserRepo{users: testUsers()}, &mockAuditRepo{})
			_, err := svc.UpdateRole(context.Background(), tc.actor, testOrigin, tc.id, tc.newRole)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("UpdateRole: %v, хотели %v", err, tc.wantErr)
			}
		})
	}
}

func TestUserAdmin_SetActive(t *testing.T) {
	users := &mockUserRepo{users: testUsers()}
	audit := &mockAuditRepo{}
	svc := newTestUserAdmin(users, audit)

	u, err := svc.SetActive(context.Background(), actorAdmin, testOrigin, "owner-1", false)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if u.Active {
		t.Error("учётная запись должна быть отключена")
	}
	e := audit.lastEntry()
	if e == nil || e.Action != model.ActionUserDisabled {
		t.Errorf("ожидали запись USER_DISABLED, получили %+v", e)
	}

	u, err = svc.SetActive(context.Background(), actorAdmin, testOrigin, "owner-1", true)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if !u.Active {
		t.Error("учётная запись должна быть включена")
	}
	e = audit.lastEntry()
	if e == nil || e.Action != model.ActionUserEnabled {
		t.Errorf("ожидали запись USER_ENABLED, получили %+v", e)
	}
}

func TestUserAdmin_SetActive_Forbidden(t *testing.T) {
	tests := []struct {
		name  string
		actor model.Actor
		id    string
	}{
		{"аудитор не управляет учётными записями", actorAuditor, "owner-1"},
		{"самоотключение запрещено", actorAdmin, "admin-1"},
		{"ADMIN не трогает админ-класс", actorAdmin, "root-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestUserAdmin(&mockUserRepo{users: testUsers()}, &mockAuditRepo{})
			if _, err := svc.SetActive(context.Background(), tc.actor, testOrigin, tc.id, false); !errors.Is(err, ErrForbidden) {
				t.Errorf("SetActive: %v, хотели ErrForbidden", err)
			}
		})
	}
}
