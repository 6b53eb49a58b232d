package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// fakeGrantSource — источник грантов для тестов: по одному гранту
// на пару (файл, принципал).
type fakeGrantSource struct {
	grants map[string]*model.AccessRequest
	err    error
}

func (s *fakeGrantSource) ActiveGrant(_ context.Context, fileID, requesterID string, now time.Time) (*model.AccessRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	g, ok := s.grants[fileID+"/"+requesterID]
	if !ok || !g.ActiveAt(now) {
		return nil, nil
	}
	return g, nil
}

func grantKey(fileID, userID string) string { return fileID + "/" + userID }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testUser(id string, role rbac.Role) *model.User {
	return &model.User{ID: id, Username: "u-" + id, Role: role, Active: true}
}

func testFile(id, ownerID string, vis model.Visibility) *model.File {
	return &model.File{ID: id, FileName: "f-" + id + ".pdf", OwnerID: ownerID, Visibility: vis}
}

func deletedFile(id, ownerID string, vis model.Visibility) *model.File {
	f := testFile(id, ownerID, vis)
	f.Deleted = true
	return f
}

func approvedGrant(fileID, userID string, at model.AccessType, expiresAt time.Time) *model.AccessRequest {
	decided := expiresAt.Add(-time.Hour)
	return &model.AccessRequest{
		ID:          "req-1",
		FileID:      fileID,
		RequesterID: userID,
		AccessType:  at,
		Status:      model.StatusApproved,
		DecidedAt:   &decided,
		ExpiresAt:   &expiresAt,
	}
}

func TestCanViewMetadata(t *testing.T) {
	owner := testUser("owner", rbac.RoleUser)
	stranger := testUser("stranger", rbac.RoleUser)
	auditor := testUser("auditor", rbac.RoleAuditor)
	admin := testUser("admin", rbac.RoleAdmin)

	tests := []struct {
		name   string
		user   *model.User
		file   *model.File
		grants map[string]*model.AccessRequest
		want   bool
	}{
		{"nil-пользователь — отказ", nil, testFile("f1", "owner", model.VisibilityPublic), nil, false},
		{"владелец видит PRIVATE", owner, testFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"чужой не видит PRIVATE", stranger, testFile("f1", "owner", model.VisibilityPrivate), nil, false},
		{"чужой видит PUBLIC", stranger, testFile("f1", "owner", model.VisibilityPublic), nil, true},
		{"админ видит PRIVATE", admin, testFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"аудитор не видит даже PUBLIC", auditor, testFile("f1", "owner", model.VisibilityPublic), nil, false},
		{"PROTECTED без гранта — отказ", stranger, testFile("f1", "owner", model.VisibilityProtected), nil, false},
		{
			"PROTECTED с действующим VIEW-грантом",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessView, testNow.Add(time.Hour)),
			},
			true,
		},
		{
			"PROTECTED с истёкшим грантом — отказ",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessView, testNow.Add(-time.Minute)),
			},
			false,
		},
		{
			"граница истечения исключается: now == expires_at",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessView, testNow),
			},
			false,
		},
		{"неизвестная видимость трактуется как PRIVATE", stranger, testFile("f1", "owner", model.Visibility("SECRET")), nil, false},
		{"чужой не видит удалённый PUBLIC", stranger, deletedFile("f1", "owner", model.VisibilityPublic), nil, false},
		{"владелец видит свой удалённый файл", owner, deletedFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"админ видит удалённый файл", admin, deletedFile("f1", "owner", model.VisibilityPrivate), nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(&fakeGrantSource{grants: tc.grants})
			got, err := e.CanViewMetadata(context.Background(), tc.user, tc.file, testNow)
			if err != nil {
				t.Fatalf("CanViewMetadata: %v", err)
			}
			if got != tc.want {
				t.Errorf("CanViewMetadata = %v, хотели %v", got, tc.want)
			}
		})
	}
}

func TestCanViewSensitiveMetadata(t *testing.T) {
	owner := testUser("owner", rbac.RoleUser)
	stranger := testUser("stranger", rbac.RoleUser)
	admin := testUser("admin", rbac.RoleAdmin)

	tests := []struct {
		name   string
		user   *model.User
		file   *model.File
		grants map[string]*model.AccessRequest
		want   bool
	}{
		{"владелец видит чувствительные поля", owner, testFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"чужой при PUBLIC видит только базовые", stranger, testFile("f1", "owner", model.VisibilityPublic), nil, false},
		{"админ при PUBLIC видит чувствительные", admin, testFile("f1", "owner", model.VisibilityPublic), nil, true},
		{"админ при PRIVATE без гранта — только базовые", admin, testFile("f1", "owner", model.VisibilityPrivate), nil, false},
		{
			"VIEW-грант открывает чувствительные поля",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessView, testNow.Add(time.Hour)),
			},
			true,
		},
		{
			"DOWNLOAD-грант покрывает VIEW",
			admin, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "admin"): approvedGrant("f1", "admin", model.AccessDownload, testNow.Add(time.Hour)),
			},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(&fakeGrantSource{grants: tc.grants})
			got, err := e.CanViewSensitiveMetadata(context.Background(), tc.user, tc.file, testNow)
			if err != nil {
				t.Fatalf("CanViewSensitiveMetadata: %v", err)
			}
			if got != tc.want {
				t.Errorf("CanViewSensitiveMetadata = %v, хотели %v", got, tc.want)
			}
		})
	}
}

func TestCanDownloadContent(t *testing.T) {
	owner := testUser("owner", rbac.RoleUser)
	stranger := testUser("stranger", rbac.RoleUser)
	auditor := testUser("auditor", rbac.RoleAuditor)
	superAdmin := testUser("root", rbac.RoleSuperAdmin)

	tests := []struct {
		name   string
		user   *model.User
		file   *model.File
		grants map[string]*model.AccessRequest
		want   bool
	}{
		{"владелец скачивает PRIVATE", owner, testFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"чужой скачивает PUBLIC", stranger, testFile("f1", "owner", model.VisibilityPublic), nil, true},
		{"чужой не скачивает PRIVATE", stranger, testFile("f1", "owner", model.VisibilityPrivate), nil, false},
		{"SUPER_ADMIN скачивает PRIVATE", superAdmin, testFile("f1", "owner", model.VisibilityPrivate), nil, true},
		{"аудитор никогда не скачивает", auditor, testFile("f1", "owner", model.VisibilityPublic), nil, false},
		{"PROTECTED без гранта — отказ", stranger, testFile("f1", "owner", model.VisibilityProtected), nil, false},
		{
			"VIEW-грант скачивание не разрешает",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessView, testNow.Add(time.Hour)),
			},
			false,
		},
		{
			"DOWNLOAD-грант разрешает скачивание",
			stranger, testFile("f1", "owner", model.VisibilityProtected),
			map[string]*model.AccessRequest{
				grantKey("f1", "stranger"): approvedGrant("f1", "stranger", model.AccessDownload, testNow.Add(time.Hour)),
			},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(&fakeGrantSource{grants: tc.grants})
			got, err := e.CanDownloadContent(context.Background(), tc.user, tc.file, testNow)
			if err != nil {
				t.Fatalf("CanDownloadContent: %v", err)
			}
			if got != tc.want {
				t.Errorf("CanDownloadContent = %v, хотели %v", got, tc.want)
			}
		})
	}
}

func TestGrantSourceError(t *testing.T) {
	wantErr := errors.New("обрыв соединения")
	e := New(&fakeGrantSource{err: wantErr})

	stranger := testUser("stranger", rbac.RoleUser)
	file := testFile("f1", "owner", model.VisibilityProtected)

	_, err := e.CanDownloadContent(context.Background(), stranger, file, testNow)
	if !errors.Is(err, wantErr) {
		t.Errorf("ошибка источника грантов должна подниматься наверх, получили %v", err)
	}
}
