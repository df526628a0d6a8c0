package writer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type eventRecorder struct {
	published []events.LiveEvent
}

func (r *eventRecorder) Publish(event events.LiveEvent) {
	r.published = append(r.published, event)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:writer_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(types.AllRecords()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestWriter(t *testing.T, db *gorm.DB) (*Writer, *eventRecorder) {
	t.Helper()
	perms, err := permission.NewService(permission.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build permission service: %v", err)
	}
	recorder := &eventRecorder{}
	writer, err := NewWriter(Config{
		Database:    db,
		Registry:    types.NewRegistry(),
		Permissions: perms,
		Events:      recorder,
	})
	if err != nil {
		t.Fatalf("failed to build writer: %v", err)
	}
	return writer, recorder
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

func mustCreateContent(t *testing.T, w *Writer, requesterID int64, name string) *types.ContentView {
	t.Helper()
	view := &types.ContentView{
		Name: name,
		Type: types.ContentTypePage,
		Text: "body of " + name,
	}
	result, err := w.Write(context.Background(), view, requesterID, "created in test")
	if err != nil {
		t.Fatalf("failed to create content %q: %v", name, err)
	}
	return result.(*types.ContentView)
}

func mustCreateMessage(t *testing.T, w *Writer, requesterID, contentID int64, text string) *types.MessageView {
	t.Helper()
	view := &types.MessageView{ContentID: contentID, Text: text}
	result, err := w.Write(context.Background(), view, requesterID, "")
	if err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	return result.(*types.MessageView)
}

func TestContentLifecycle(t *testing.T) {
	db := newTestDB(t)
	w, recorder := newTestWriter(t, db)
	seedUser(t, db, 1, false)

	created, err := w.Write(context.Background(), &types.ContentView{
		Name:     "welcome",
		Type:     types.ContentTypePage,
		Text:     "hello",
		Keywords: []string{"alpha", "beta"},
		Values:   map[string]string{"style": "wide"},
	}, 1, "first page")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	view := created.(*types.ContentView)
	if view.ID == 0 {
		t.Fatalf("created view has no id")
	}
	if view.CreateUserID != 1 {
		t.Fatalf("creator must be stamped from the requester, got %d", view.CreateUserID)
	}
	if view.Name != "welcome" || view.Text != "hello" {
		t.Fatalf("re-read view lost user fields: %+v", view)
	}
	if len(view.Keywords) != 2 || view.Values["style"] != "wide" {
		t.Fatalf("child collections not persisted: %+v", view)
	}
	if view.Permissions[1] != "CRUD" {
		t.Fatalf("creator must hold full access, got %q", view.Permissions[1])
	}
	if len(view.Hash) != 8 {
		t.Fatalf("expected an 8-character hash, got %q", view.Hash)
	}
	for _, ch := range view.Hash {
		if !strings.ContainsRune(hashAlphabet, ch) {
			t.Fatalf("hash %q uses a character outside the alphabet", view.Hash)
		}
	}

	view.Name = "welcome page"
	updated, err := w.Write(context.Background(), view, 1, "renamed")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.(*types.ContentView).Name != "welcome page" {
		t.Fatalf("update not persisted: %+v", updated)
	}

	var revisions int64
	if err := db.Model(&types.ContentHistory{}).Where("contentId = ?", view.ID).Count(&revisions).Error; err != nil {
		t.Fatalf("history count failed: %v", err)
	}
	if revisions != 2 {
		t.Fatalf("expected a snapshot per mutation, got %d", revisions)
	}

	deleted, err := w.Delete(context.Background(), types.KindContent, view.ID, 1, "cleanup")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	gone := deleted.(*types.ContentView)
	if !gone.Deleted {
		t.Fatalf("soft delete must mark the row deleted")
	}
	if !strings.HasPrefix(gone.Name, "deleted_") || gone.Text != "" || gone.CreateUserID != 0 {
		t.Fatalf("delete must scrub user-authored fields: %+v", gone)
	}
	if len(gone.Keywords) != 0 || len(gone.Permissions) != 0 {
		t.Fatalf("delete must clear child collections: %+v", gone)
	}

	// The scrubbed row stays traceable through its history trail.
	var lastRevision types.ContentHistory
	if err := db.Where("contentId = ?", view.ID).Order("id DESC").Take(&lastRevision).Error; err != nil {
		t.Fatalf("history lookup failed: %v", err)
	}
	if lastRevision.Action != types.ActionDelete {
		t.Fatalf("latest history row must record the delete, got %q", lastRevision.Action)
	}

	if len(recorder.published) != 3 {
		t.Fatalf("expected one event per mutation, got %d", len(recorder.published))
	}
	for _, event := range recorder.published {
		if event.Category != events.CategoryContent || event.RefID != view.ID {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
}

func TestContentDeletedFlagIsNotWritable(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)

	_, err := w.Write(context.Background(), &types.ContentView{
		Name:    "sneaky",
		Type:    types.ContentTypePage,
		Deleted: true,
	}, 1, "")
	if !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("expected request rejection, got %v", err)
	}
}

func TestContentParentRequiresCreatePermission(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	seedUser(t, db, 2, false)
	parent := mustCreateContent(t, w, 1, "parent")

	_, err := w.Write(context.Background(), &types.ContentView{
		Name:     "child",
		Type:     types.ContentTypePage,
		ParentID: parent.ID,
	}, 2, "")
	if !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("expected forbidden without create permission on the parent, got %v", err)
	}

	parent.Permissions[2] = "C"
	if _, err := w.Write(context.Background(), parent, 1, "open up"); err != nil {
		t.Fatalf("granting create failed: %v", err)
	}
	if _, err := w.Write(context.Background(), &types.ContentView{
		Name:     "child",
		Type:     types.ContentTypePage,
		ParentID: parent.ID,
	}, 2, ""); err != nil {
		t.Fatalf("create under permitted parent failed: %v", err)
	}
}

func TestModuleManagementIsSuperOnly(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	seedUser(t, db, 9, true)

	_, err := w.Write(context.Background(), &types.ContentView{
		Name: "chat",
		Type: types.ContentTypeModule,
	}, 1, "")
	if !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("expected forbidden for non-super module create, got %v", err)
	}

	created, err := w.Write(context.Background(), &types.ContentView{
		Name: "chat",
		Type: types.ContentTypeModule,
	}, 9, "")
	if err != nil {
		t.Fatalf("super module create failed: %v", err)
	}

	// Module names are unique among live modules.
	_, err = w.Write(context.Background(), &types.ContentView{
		Name: "chat",
		Type: types.ContentTypeModule,
	}, 9, "")
	if !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("expected duplicate module rejection, got %v", err)
	}

	var logs int64
	err = db.Model(&types.AdminLog{}).
		Where("type = ? AND targetId = ?", types.AdminLogModuleCreate, created.ViewID()).
		Count(&logs).Error
	if err != nil {
		t.Fatalf("admin log count failed: %v", err)
	}
	if logs != 1 {
		t.Fatalf("module create must append an audit row, got %d", logs)
	}
}

func TestMessageLifecycle(t *testing.T) {
	db := newTestDB(t)
	w, recorder := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	seedUser(t, db, 2, false)
	thread := mustCreateContent(t, w, 1, "thread")

	message := mustCreateMessage(t, w, 1, thread.ID, "first")
	if message.CreateUserID != 1 || message.ContentID != thread.ID {
		t.Fatalf("message not stamped correctly: %+v", message)
	}

	// Only the author may edit.
	message.Text = "hijacked"
	if _, err := w.Write(context.Background(), message, 2, ""); !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("expected forbidden for non-author edit, got %v", err)
	}

	message.Text = "first, edited"
	edited, err := w.Write(context.Background(), message, 1, "")
	if err != nil {
		t.Fatalf("author edit failed: %v", err)
	}
	if edited.(*types.MessageView).EditUserID != 1 {
		t.Fatalf("edit must stamp the editor: %+v", edited)
	}

	deleted, err := w.Delete(context.Background(), types.KindMessage, message.ID, 1, "")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	gone := deleted.(*types.MessageView)
	if !gone.Deleted || gone.Text != "" {
		t.Fatalf("message delete must scrub the text: %+v", gone)
	}

	for _, event := range recorder.published {
		if event.Category == events.CategoryMessage && event.ParentID != thread.ID {
			t.Fatalf("message events must carry the thread id: %+v", event)
		}
	}
}

func TestBanBlocksWrites(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	seedUser(t, db, 9, true)

	ban := &types.BanView{
		BannedUserID: 1,
		ExpireDate:   time.Now().Add(time.Hour),
		Message:      "spam",
		Scope:        types.BanScopeAll,
	}

	if _, err := w.Write(context.Background(), ban, 1, ""); !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("expected forbidden for non-super ban, got %v", err)
	}

	created, err := w.Write(context.Background(), ban, 9, "")
	if err != nil {
		t.Fatalf("ban create failed: %v", err)
	}

	_, err = w.Write(context.Background(), &types.ContentView{Name: "blocked", Type: types.ContentTypePage}, 1, "")
	if !cerrors.Is(err, cerrors.CategoryBanned) {
		t.Fatalf("expected banned rejection, got %v", err)
	}

	if _, err := w.Delete(context.Background(), types.KindBan, created.ViewID(), 9, ""); !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("bans must only be amendable, got %v", err)
	}

	// An expired ban no longer blocks.
	amended := created.(*types.BanView)
	amended.ExpireDate = time.Now().Add(-time.Minute)
	if _, err := w.Write(context.Background(), amended, 9, ""); err != nil {
		t.Fatalf("ban amend failed: %v", err)
	}
	if _, err := w.Write(context.Background(), &types.ContentView{Name: "unblocked", Type: types.ContentTypePage}, 1, ""); err != nil {
		t.Fatalf("write after ban expiry failed: %v", err)
	}
}

func TestWatchIsHardDeletedAndUnique(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	thread := mustCreateContent(t, w, 1, "thread")

	created, err := w.Write(context.Background(), &types.WatchView{ContentID: thread.ID}, 1, "")
	if err != nil {
		t.Fatalf("watch create failed: %v", err)
	}

	if _, err := w.Write(context.Background(), &types.WatchView{ContentID: thread.ID}, 1, ""); !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("duplicate watch must be rejected, got %v", err)
	}

	if _, err := w.Delete(context.Background(), types.KindWatch, created.ViewID(), 1, ""); err != nil {
		t.Fatalf("watch delete failed: %v", err)
	}
	var remaining int64
	if err := db.Model(&types.ContentWatch{}).Where("id = ?", created.ViewID()).Count(&remaining).Error; err != nil {
		t.Fatalf("watch count failed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("watch delete must remove the row")
	}
}

func TestVoteEmitsNoEvent(t *testing.T) {
	db := newTestDB(t)
	w, recorder := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	thread := mustCreateContent(t, w, 1, "thread")
	before := len(recorder.published)

	if _, err := w.Write(context.Background(), &types.VoteView{ContentID: thread.ID, Vote: 1}, 1, ""); err != nil {
		t.Fatalf("vote create failed: %v", err)
	}
	if len(recorder.published) != before {
		t.Fatalf("votes must not emit live events")
	}

	if _, err := w.Write(context.Background(), &types.VoteView{ContentID: thread.ID, Vote: -1}, 1, ""); !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("duplicate vote must be rejected, got %v", err)
	}
}

func TestUserVariableEditCount(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)

	created, err := w.Write(context.Background(), &types.UserVariableView{Key: "theme", Value: "dark"}, 1, "")
	if err != nil {
		t.Fatalf("variable create failed: %v", err)
	}
	variable := created.(*types.UserVariableView)
	if variable.EditCount != 0 || variable.UserID != 1 {
		t.Fatalf("fresh variable mis-stamped: %+v", variable)
	}

	if _, err := w.Write(context.Background(), &types.UserVariableView{Key: "theme", Value: "light"}, 1, ""); !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("duplicate variable key must be rejected, got %v", err)
	}

	variable.Value = "light"
	updated, err := w.Write(context.Background(), variable, 1, "")
	if err != nil {
		t.Fatalf("variable update failed: %v", err)
	}
	if updated.(*types.UserVariableView).EditCount != 1 {
		t.Fatalf("edit count must increment, got %+v", updated)
	}
}

func TestGroupLifecycle(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)
	seedUser(t, db, 2, false)

	// Ordinary accounts never come from the write pipeline.
	_, err := w.Write(context.Background(), &types.UserView{
		Username: "impostor",
		Type:     types.UserTypeUser,
	}, 1, "")
	if !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("expected forbidden for user create, got %v", err)
	}

	created, err := w.Write(context.Background(), &types.UserView{
		Username: "editors",
		Type:     types.UserTypeGroup,
		Members:  []int64{2},
	}, 1, "")
	if err != nil {
		t.Fatalf("group create failed: %v", err)
	}
	group := created.(*types.UserView)
	if len(group.Members) != 1 || group.Members[0] != 2 {
		t.Fatalf("group members not persisted: %+v", group)
	}

	group.Members = []int64{1, 2}
	if _, err := w.Write(context.Background(), group, 2, ""); !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("only the creator may update the group, got %v", err)
	}
	updated, err := w.Write(context.Background(), group, 1, "")
	if err != nil {
		t.Fatalf("group update failed: %v", err)
	}
	if len(updated.(*types.UserView).Members) != 2 {
		t.Fatalf("membership change not persisted: %+v", updated)
	}

	var logs int64
	err = db.Model(&types.AdminLog{}).
		Where("type = ?", types.AdminLogGroupChange).
		Count(&logs).Error
	if err != nil {
		t.Fatalf("admin log count failed: %v", err)
	}
	if logs != 1 {
		t.Fatalf("membership changes must be audited once, got %d", logs)
	}
}

func TestRestoreRevision(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)

	created := mustCreateContent(t, w, 1, "original")
	created.Name = "renamed"
	if _, err := w.Write(context.Background(), created, 1, ""); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	var revisions []types.ContentHistory
	if err := db.Where("contentId = ?", created.ID).Order("id").Find(&revisions).Error; err != nil {
		t.Fatalf("revision lookup failed: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("expected two revisions, got %d", len(revisions))
	}

	// The newest revision is already live.
	_, err := w.RestoreRevision(context.Background(), revisions[1].ID, 1)
	if !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("restoring the current revision must be rejected, got %v", err)
	}

	restored, err := w.RestoreRevision(context.Background(), revisions[0].ID, 1)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.(*types.ContentView).Name != "original" {
		t.Fatalf("restore did not rebuild the old state: %+v", restored)
	}

	var logs int64
	if err := db.Model(&types.AdminLog{}).Where("type = ?", types.AdminLogContentRestore).Count(&logs).Error; err != nil {
		t.Fatalf("admin log count failed: %v", err)
	}
	if logs != 1 {
		t.Fatalf("restores must be audited, got %d", logs)
	}
}

func TestRethreadMessages(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)
	seedUser(t, db, 1, false)

	source := mustCreateContent(t, w, 1, "source thread")
	target := mustCreateContent(t, w, 1, "target thread")
	first := mustCreateMessage(t, w, 1, source.ID, "one")
	second := mustCreateMessage(t, w, 1, source.ID, "two")

	moved, err := w.RethreadMessages(context.Background(), []int64{first.ID, second.ID}, target.ID, 1)
	if err != nil {
		t.Fatalf("rethread failed: %v", err)
	}
	if len(moved) != 2 {
		t.Fatalf("expected both messages back, got %d", len(moved))
	}
	for _, view := range moved {
		if view.(*types.MessageView).ContentID != target.ID {
			t.Fatalf("message not moved: %+v", view)
		}
	}

	marker := fmt.Sprintf("%d:%d", source.ID, 2)
	var start types.MessageValue
	err = db.Where(`messageId = ? AND "key" = ?`, first.ID, "rethreadStart").Take(&start).Error
	if err != nil || start.Value != marker {
		t.Fatalf("start marker missing or wrong: %v %+v", err, start)
	}
	var end types.MessageValue
	err = db.Where(`messageId = ? AND "key" = ?`, second.ID, "rethreadEnd").Take(&end).Error
	if err != nil || end.Value != marker {
		t.Fatalf("end marker missing or wrong: %v %+v", err, end)
	}

	if _, err := w.RethreadMessages(context.Background(), []int64{first.ID}, target.ID, 1); !cerrors.Is(err, cerrors.CategoryRequest) {
		t.Fatalf("rethreading into the current thread must be rejected, got %v", err)
	}
}

func TestWriteRequiresKnownRequester(t *testing.T) {
	db := newTestDB(t)
	w, _ := newTestWriter(t, db)

	_, err := w.Write(context.Background(), &types.ContentView{Name: "ghost", Type: types.ContentTypePage}, 0, "")
	if !cerrors.Is(err, cerrors.CategoryForbidden) {
		t.Fatalf("anonymous writes must be forbidden, got %v", err)
	}

	_, err = w.Write(context.Background(), &types.ContentView{Name: "ghost", Type: types.ContentTypePage}, 42, "")
	if !cerrors.Is(err, cerrors.CategoryNotFound) {
		t.Fatalf("unknown requester must be not found, got %v", err)
	}
}
