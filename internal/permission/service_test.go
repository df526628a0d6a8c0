package permission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/driftboard/contentdb/internal/types"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:permission_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(types.AllRecords()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func seedUser(t *testing.T, db *gorm.DB, id int64, super bool) {
	t.Helper()
	user := types.User{
		ID:         id,
		Username:   fmt.Sprintf("user_%d", id),
		Type:       types.UserTypeUser,
		Super:      super,
		CreateDate: time.Now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedPermission(t *testing.T, db *gorm.DB, contentID, userID int64, letters string) {
	t.Helper()
	row := types.ContentPermission{ContentID: contentID, UserID: userID}
	for _, letter := range letters {
		switch Action(letter) {
		case ActionCreate:
			row.Create = true
		case ActionRead:
			row.Read = true
		case ActionUpdate:
			row.Update = true
		case ActionDelete:
			row.Delete = true
		}
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed permission: %v", err)
	}
}

func TestIdentitySetForAnonymous(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	set, err := service.IdentitySetFor(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.IDs) != 1 || set.IDs[0] != 0 {
		t.Fatalf("expected anonymous set {0}, got %v", set.IDs)
	}
	if set.Super {
		t.Fatalf("anonymous set must not be super")
	}
}

func TestIdentitySetForIncludesGroups(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedUser(t, db, 5, false)
	relation := types.UserRelation{Type: types.RelationInGroup, UserID: 5, RelatedID: 9}
	if err := db.Create(&relation).Error; err != nil {
		t.Fatalf("failed to seed relation: %v", err)
	}

	set, err := service.IdentitySetFor(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := map[int64]bool{0: true, 5: true, 9: true}
	if len(set.IDs) != len(expected) {
		t.Fatalf("expected identity set of size %d, got %v", len(expected), set.IDs)
	}
	for _, id := range set.IDs {
		if !expected[id] {
			t.Fatalf("unexpected identity %d in %v", id, set.IDs)
		}
	}
}

func TestIdentitySetForUnknownUser(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	if _, err := service.IdentitySetFor(context.Background(), 404); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestCanPerformMatchesGrantedBits(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedUser(t, db, 3, false)
	seedPermission(t, db, 100, 3, "RU")

	set, err := service.IdentitySetFor(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	allowed, err := service.CanPerform(context.Background(), set, ActionUpdate, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected update to be allowed")
	}

	allowed, err = service.CanPerform(context.Background(), set, ActionDelete, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected delete to be denied")
	}
}

func TestSuperBypassesAllButRead(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedUser(t, db, 7, true)

	set, err := service.IdentitySetFor(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Super {
		t.Fatalf("expected super identity set")
	}

	allowed, err := service.CanPerform(context.Background(), set, ActionDelete, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected super to bypass delete check")
	}

	// Read stays subject to the stored rows even for supers.
	allowed, err = service.CanPerform(context.Background(), set, ActionRead, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected read to stay denied without a grant")
	}
}

func TestIsPublicUsesEveryoneIdentity(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedPermission(t, db, 55, 0, "R")

	public, err := service.IsPublic(context.Background(), 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !public {
		t.Fatalf("expected content 55 to be public")
	}

	public, err = service.IsPublic(context.Background(), 56)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if public {
		t.Fatalf("expected content 56 to be private")
	}
}
