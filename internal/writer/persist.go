package writer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/history"
	"github.com/driftboard/contentdb/internal/types"
	"gorm.io/gorm"
)

// persistContent writes the content row, rewrites its child collections,
// appends a history snapshot, and audits module changes, all in one
// transaction. Creates additionally run under the hash generator lock so the
// uniqueness check and the claiming insert cannot interleave.
func (w *Writer) persistContent(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.ContentView)
	var existing types.ContentView
	if unit.existing != nil {
		existing = *unit.existing.(*types.ContentView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.Content{
		ID:           view.ID,
		Deleted:      unit.action == types.ActionDelete,
		CreateUserID: m.mapID("createUserId", view.CreateUserID, existing.CreateUserID),
		CreateDate:   m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		Name:         m.mapString("name", view.Name, existing.Name),
		ParentID:     m.mapID("parentId", view.ParentID, existing.ParentID),
		Text:         m.mapString("text", view.Text, existing.Text),
		ContentType:  types.ContentType(m.mapID("contentType", int64(view.Type), int64(existing.Type))),
		LiteralType:  m.mapString("literalType", view.LiteralType, existing.LiteralType),
		Meta:         m.mapString("meta", view.Meta, existing.Meta),
		Description:  m.mapString("description", view.Description, existing.Description),
		Hash:         m.mapString("hash", view.Hash, existing.Hash),
	}

	keywords := view.Keywords
	values := view.Values
	perms := make(map[int64]string, len(view.Permissions)+1)
	for id, letters := range view.Permissions {
		perms[id] = letters
	}

	if unit.action == types.ActionDelete {
		// Scrub user-authored content but keep the row for references.
		record.Name = fmt.Sprintf("deleted_%d", record.ID)
		record.Text = ""
		record.LiteralType = ""
		record.Meta = ""
		record.Description = ""
		record.CreateUserID = 0
		keywords = nil
		values = nil
		perms = nil
	} else {
		// The creator always keeps full access to their own content.
		perms[record.CreateUserID] = "CRUD"
	}

	body := func(tx *gorm.DB) error {
		if unit.action == types.ActionCreate {
			if err := tx.Create(&record).Error; err != nil {
				return infraErr(opWrite, "content insert failed", err)
			}
		} else {
			var current types.Content
			if err := rowLock(tx).Where("id = ?", record.ID).Take(&current).Error; err != nil {
				return infraErr(opWrite, "content lock failed", err)
			}
			if err := tx.Save(&record).Error; err != nil {
				return infraErr(opWrite, "content update failed", err)
			}
		}
		if err := replaceContentChildren(tx, record.ID, keywords, values, perms); err != nil {
			return err
		}

		snapshot := history.ContentSnapshot{
			Content:     record,
			Keywords:    keywords,
			Values:      values,
			Permissions: perms,
		}
		row, err := history.SnapshotToHistory(snapshot, unit.requester.ID, unit.action, now)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "history insert failed", err)
		}

		if record.ContentType == types.ContentTypeModule {
			text := fmt.Sprintf("module %q: %s", record.Name, unit.action)
			if err := appendAdminLog(tx, moduleLogType(unit.action), unit.requester.ID, record.ID, text, now); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if unit.action == types.ActionCreate {
		err = w.hashes.withNewHash(ctx, func(hash string) error {
			record.ID = 0
			record.Hash = hash
			return w.db.WithContext(ctx).Transaction(body)
		})
	} else {
		err = w.db.WithContext(ctx).Transaction(body)
	}
	if err != nil {
		return 0, nil, err
	}

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryContent, record.ID, record.ParentID, now)
	return record.ID, &event, nil
}

func moduleLogType(action types.UserAction) types.AdminLogType {
	switch action {
	case types.ActionCreate:
		return types.AdminLogModuleCreate
	case types.ActionDelete:
		return types.AdminLogModuleDelete
	default:
		return types.AdminLogModuleUpdate
	}
}

func (w *Writer) persistMessage(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.MessageView)
	var existing types.MessageView
	if unit.existing != nil {
		existing = *unit.existing.(*types.MessageView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.Message{
		ID:            view.ID,
		ContentID:     m.mapID("contentId", view.ContentID, existing.ContentID),
		CreateUserID:  m.mapID("createUserId", view.CreateUserID, existing.CreateUserID),
		CreateDate:    m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		EditUserID:    m.mapID("editUserId", view.EditUserID, existing.EditUserID),
		EditDate:      m.mapTime("editDate", view.EditDate, existing.EditDate),
		Text:          m.mapString("text", view.Text, existing.Text),
		Module:        m.mapString("module", view.Module, existing.Module),
		ReceiveUserID: m.mapID("receiveUserId", view.ReceiveUserID, existing.ReceiveUserID),
		Deleted:       unit.action == types.ActionDelete,
	}

	values := view.Values
	if unit.action == types.ActionDelete {
		record.Text = ""
		values = nil
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if unit.action == types.ActionCreate {
			if err := tx.Create(&record).Error; err != nil {
				return infraErr(opWrite, "message insert failed", err)
			}
		} else {
			var current types.Message
			if err := rowLock(tx).Where("id = ?", record.ID).Take(&current).Error; err != nil {
				return infraErr(opWrite, "message lock failed", err)
			}
			if err := tx.Save(&record).Error; err != nil {
				return infraErr(opWrite, "message update failed", err)
			}
		}
		if err := replaceMessageValues(tx, record.ID, values); err != nil {
			return err
		}

		snapshot := history.MessageSnapshot{Message: record, Values: values}
		row, err := history.MessageSnapshotToHistory(snapshot, unit.requester.ID, unit.action, now)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "message history insert failed", err)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryMessage, record.ID, record.ContentID, now)
	return record.ID, &event, nil
}

func (w *Writer) persistUser(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.UserView)
	var existing types.UserView
	if unit.existing != nil {
		existing = *unit.existing.(*types.UserView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.User{
		ID:           view.ID,
		CreateUserID: m.mapID("createUserId", view.CreateUserID, existing.CreateUserID),
		Username:     m.mapString("username", view.Username, existing.Username),
		Avatar:       m.mapString("avatar", view.Avatar, existing.Avatar),
		Special:      m.mapString("special", view.Special, existing.Special),
		Super:        m.mapBool("super", view.Super, existing.Super),
		Type:         types.UserType(m.mapID("type", int64(view.Type), int64(existing.Type))),
		CreateDate:   m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		Deleted:      unit.action == types.ActionDelete,
	}

	members := view.Members
	if unit.action == types.ActionDelete {
		record.Username = fmt.Sprintf("deleted_user_%d", record.ID)
		record.Avatar = ""
		record.Special = ""
		members = nil
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if unit.action == types.ActionCreate {
			if err := tx.Create(&record).Error; err != nil {
				return infraErr(opWrite, "user insert failed", err)
			}
		} else {
			var current types.User
			if err := rowLock(tx).Where("id = ?", record.ID).Take(&current).Error; err != nil {
				return infraErr(opWrite, "user lock failed", err)
			}
			if err := tx.Save(&record).Error; err != nil {
				return infraErr(opWrite, "user update failed", err)
			}
		}

		membersChanged := false
		if record.Type == types.UserTypeGroup {
			membersChanged = !sameMembers(existing.Members, members)
			if err := replaceGroupMembers(tx, record.ID, members); err != nil {
				return err
			}
		}

		switch unit.action {
		case types.ActionCreate:
			text := fmt.Sprintf("group %q created", record.Username)
			return appendAdminLog(tx, types.AdminLogUserCreate, unit.requester.ID, record.ID, text, now)
		case types.ActionDelete:
			text := fmt.Sprintf("account %d deleted", record.ID)
			return appendAdminLog(tx, types.AdminLogUserDelete, unit.requester.ID, record.ID, text, now)
		default:
			if existing.Username != record.Username {
				text := fmt.Sprintf("username %q changed to %q", existing.Username, record.Username)
				if err := appendAdminLog(tx, types.AdminLogUsernameChange, unit.requester.ID, record.ID, text, now); err != nil {
					return err
				}
			}
			if membersChanged {
				text := fmt.Sprintf("group %q membership changed", record.Username)
				if err := appendAdminLog(tx, types.AdminLogGroupChange, unit.requester.ID, record.ID, text, now); err != nil {
					return err
				}
			}
			return nil
		}
	})
	if err != nil {
		return 0, nil, err
	}

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryUser, record.ID, 0, now)
	return record.ID, &event, nil
}

func (w *Writer) persistBan(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.BanView)
	var existing types.BanView
	if unit.existing != nil {
		existing = *unit.existing.(*types.BanView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.Ban{
		ID:           view.ID,
		CreateUserID: m.mapID("createUserId", view.CreateUserID, existing.CreateUserID),
		BannedUserID: m.mapID("bannedUserId", view.BannedUserID, existing.BannedUserID),
		CreateDate:   m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		ExpireDate:   m.mapTime("expireDate", view.ExpireDate, existing.ExpireDate),
		Message:      m.mapString("message", view.Message, existing.Message),
		Scope:        types.BanScope(m.mapID("scope", int64(view.Scope), int64(existing.Scope))),
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		logType := types.AdminLogBanUpdate
		if unit.action == types.ActionCreate {
			logType = types.AdminLogBanCreate
			if err := tx.Create(&record).Error; err != nil {
				return infraErr(opWrite, "ban insert failed", err)
			}
		} else {
			if err := tx.Save(&record).Error; err != nil {
				return infraErr(opWrite, "ban update failed", err)
			}
		}
		text := fmt.Sprintf("user %d banned (scope %d) until %s", record.BannedUserID, record.Scope, record.ExpireDate.UTC().Format("2006-01-02T15:04:05Z"))
		return appendAdminLog(tx, logType, unit.requester.ID, record.BannedUserID, text, now)
	})
	if err != nil {
		return 0, nil, err
	}

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryBan, record.ID, record.BannedUserID, now)
	return record.ID, &event, nil
}

func (w *Writer) persistWatch(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.WatchView)
	var existing types.WatchView
	if unit.existing != nil {
		existing = *unit.existing.(*types.WatchView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.ContentWatch{
		ID:            view.ID,
		UserID:        m.mapID("userId", view.UserID, existing.UserID),
		ContentID:     m.mapID("contentId", view.ContentID, existing.ContentID),
		LastCommentID: m.mapID("lastCommentId", view.LastCommentID, existing.LastCommentID),
		CreateDate:    m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		EditDate:      m.mapTime("editDate", view.EditDate, existing.EditDate),
	}

	id, err := persistSimple(ctx, w.db, unit.action, &record, record.ID, "watch")
	if err != nil {
		return 0, nil, err
	}
	record.ID = id

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryWatch, record.ID, record.ContentID, now)
	return record.ID, &event, nil
}

func (w *Writer) persistVote(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.VoteView)
	var existing types.VoteView
	if unit.existing != nil {
		existing = *unit.existing.(*types.VoteView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.ContentVote{
		ID:         view.ID,
		UserID:     m.mapID("userId", view.UserID, existing.UserID),
		ContentID:  m.mapID("contentId", view.ContentID, existing.ContentID),
		Vote:       int(m.mapID("vote", int64(view.Vote), int64(existing.Vote))),
		CreateDate: m.mapTime("createDate", view.CreateDate, existing.CreateDate),
	}

	id, err := persistSimple(ctx, w.db, unit.action, &record, record.ID, "vote")
	if err != nil {
		return 0, nil, err
	}

	// Votes are tallies, not conversation; they emit no live event.
	return id, nil, nil
}

func (w *Writer) persistUserVariable(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	view := unit.view.(*types.UserVariableView)
	var existing types.UserVariableView
	if unit.existing != nil {
		existing = *unit.existing.(*types.UserVariableView)
	}
	now := w.clock()
	m := mapper{descriptor: unit.descriptor, action: unit.action, requester: unit.requester.ID, now: now}

	record := types.UserVariable{
		ID:         view.ID,
		UserID:     m.mapID("userId", view.UserID, existing.UserID),
		Key:        m.mapString("key", view.Key, existing.Key),
		Value:      m.mapString("value", view.Value, existing.Value),
		CreateDate: m.mapTime("createDate", view.CreateDate, existing.CreateDate),
		EditDate:   m.mapTime("editDate", view.EditDate, existing.EditDate),
		EditCount:  m.mapID("editCount", view.EditCount, existing.EditCount),
	}

	id, err := persistSimple(ctx, w.db, unit.action, &record, record.ID, "variable")
	if err != nil {
		return 0, nil, err
	}
	record.ID = id

	event := events.NewLiveEvent(unit.requester.ID, string(unit.action), events.CategoryUserVariable, record.ID, record.UserID, now)
	return record.ID, &event, nil
}

// persistSimple handles the kinds with a single row and no children: insert,
// full update, or physical delete.
func persistSimple[R any](ctx context.Context, db *gorm.DB, action types.UserAction, record *R, id int64, label string) (int64, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch action {
		case types.ActionCreate:
			if err := tx.Create(record).Error; err != nil {
				return infraErr(opWrite, label+" insert failed", err)
			}
		case types.ActionDelete:
			if err := tx.Where("id = ?", id).Delete(record).Error; err != nil {
				return infraErr(opWrite, label+" delete failed", err)
			}
		default:
			if err := tx.Save(record).Error; err != nil {
				return infraErr(opWrite, label+" update failed", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if action == types.ActionCreate {
		return idOf(record), nil
	}
	return id, nil
}

func idOf(record any) int64 {
	switch r := record.(type) {
	case *types.ContentWatch:
		return r.ID
	case *types.ContentVote:
		return r.ID
	case *types.UserVariable:
		return r.ID
	}
	return 0
}

// replaceContentChildren rewrites the keyword, value, and permission sets of
// one content row. Child rows carry no identity of their own.
func replaceContentChildren(tx *gorm.DB, contentID int64, keywords []string, values map[string]string, perms map[int64]string) error {
	if err := tx.Where("contentId = ?", contentID).Delete(&types.ContentKeyword{}).Error; err != nil {
		return infraErr(opWrite, "keyword clear failed", err)
	}
	if err := tx.Where("contentId = ?", contentID).Delete(&types.ContentValue{}).Error; err != nil {
		return infraErr(opWrite, "value clear failed", err)
	}
	if err := tx.Where("contentId = ?", contentID).Delete(&types.ContentPermission{}).Error; err != nil {
		return infraErr(opWrite, "permission clear failed", err)
	}

	for _, keyword := range keywords {
		row := types.ContentKeyword{ContentID: contentID, Keyword: keyword}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "keyword insert failed", err)
		}
	}
	for _, key := range sortedKeys(values) {
		row := types.ContentValue{ContentID: contentID, Key: key, Value: values[key]}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "value insert failed", err)
		}
	}
	ids := make([]int64, 0, len(perms))
	for id := range perms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		row := permissionFromString(contentID, id, perms[id])
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "permission insert failed", err)
		}
	}
	return nil
}

func replaceMessageValues(tx *gorm.DB, messageID int64, values map[string]string) error {
	if err := tx.Where("messageId = ?", messageID).Delete(&types.MessageValue{}).Error; err != nil {
		return infraErr(opWrite, "message value clear failed", err)
	}
	for _, key := range sortedKeys(values) {
		row := types.MessageValue{MessageID: messageID, Key: key, Value: values[key]}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "message value insert failed", err)
		}
	}
	return nil
}

func replaceGroupMembers(tx *gorm.DB, groupID int64, members []int64) error {
	err := tx.Where("type = ? AND relatedId = ?", types.RelationInGroup, groupID).
		Delete(&types.UserRelation{}).Error
	if err != nil {
		return infraErr(opWrite, "member clear failed", err)
	}
	for _, member := range members {
		row := types.UserRelation{Type: types.RelationInGroup, UserID: member, RelatedID: groupID}
		if err := tx.Create(&row).Error; err != nil {
			return infraErr(opWrite, "member insert failed", err)
		}
	}
	return nil
}

func sameMembers(before, after []int64) bool {
	if len(before) != len(after) {
		return false
	}
	a := append([]int64(nil), before...)
	b := append([]int64(nil), after...)
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func appendAdminLog(tx *gorm.DB, logType types.AdminLogType, initiator, target int64, text string, at time.Time) error {
	row := types.AdminLog{
		Type:        logType,
		InitiatorID: initiator,
		TargetID:    target,
		CreateDate:  at,
		Text:        text,
	}
	if err := tx.Create(&row).Error; err != nil {
		return infraErr(opWrite, "admin log insert failed", err)
	}
	return nil
}
