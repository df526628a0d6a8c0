package writer

import (
	"time"

	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
)

func contentToView(record types.Content, keywords []types.ContentKeyword, values []types.ContentValue, perms []types.ContentPermission) *types.ContentView {
	view := &types.ContentView{
		ID:           record.ID,
		Deleted:      record.Deleted,
		CreateUserID: record.CreateUserID,
		CreateDate:   record.CreateDate,
		Name:         record.Name,
		ParentID:     record.ParentID,
		Text:         record.Text,
		Type:         record.ContentType,
		LiteralType:  record.LiteralType,
		Meta:         record.Meta,
		Description:  record.Description,
		Hash:         record.Hash,
		Keywords:     make([]string, 0, len(keywords)),
		Values:       make(map[string]string, len(values)),
		Permissions:  make(map[int64]string, len(perms)),
	}
	for _, keyword := range keywords {
		view.Keywords = append(view.Keywords, keyword.Keyword)
	}
	for _, value := range values {
		view.Values[value.Key] = value.Value
	}
	for _, perm := range perms {
		view.Permissions[perm.UserID] = permissionToString(perm)
	}
	return view
}

func permissionToString(perm types.ContentPermission) string {
	letters := ""
	if perm.Create {
		letters += "C"
	}
	if perm.Read {
		letters += "R"
	}
	if perm.Update {
		letters += "U"
	}
	if perm.Delete {
		letters += "D"
	}
	return letters
}

func permissionFromString(contentID, userID int64, normalized string) types.ContentPermission {
	return types.ContentPermission{
		ContentID: contentID,
		UserID:    userID,
		Create:    permission.StringHas(normalized, permission.ActionCreate),
		Read:      permission.StringHas(normalized, permission.ActionRead),
		Update:    permission.StringHas(normalized, permission.ActionUpdate),
		Delete:    permission.StringHas(normalized, permission.ActionDelete),
	}
}

func messageToView(record types.Message, values []types.MessageValue) *types.MessageView {
	view := &types.MessageView{
		ID:            record.ID,
		ContentID:     record.ContentID,
		CreateUserID:  record.CreateUserID,
		CreateDate:    record.CreateDate,
		EditUserID:    record.EditUserID,
		EditDate:      record.EditDate,
		Text:          record.Text,
		Module:        record.Module,
		ReceiveUserID: record.ReceiveUserID,
		Deleted:       record.Deleted,
		Values:        make(map[string]string, len(values)),
	}
	for _, value := range values {
		view.Values[value.Key] = value.Value
	}
	return view
}

func userToView(record types.User, groups, members []int64) types.UserView {
	return types.UserView{
		ID:           record.ID,
		CreateUserID: record.CreateUserID,
		Username:     record.Username,
		Avatar:       record.Avatar,
		Special:      record.Special,
		Super:        record.Super,
		Type:         record.Type,
		CreateDate:   record.CreateDate,
		Deleted:      record.Deleted,
		Groups:       groups,
		Members:      members,
	}
}

func watchToView(record types.ContentWatch) *types.WatchView {
	return &types.WatchView{
		ID:            record.ID,
		UserID:        record.UserID,
		ContentID:     record.ContentID,
		LastCommentID: record.LastCommentID,
		CreateDate:    record.CreateDate,
		EditDate:      record.EditDate,
	}
}

func voteToView(record types.ContentVote) *types.VoteView {
	return &types.VoteView{
		ID:         record.ID,
		UserID:     record.UserID,
		ContentID:  record.ContentID,
		Vote:       record.Vote,
		CreateDate: record.CreateDate,
	}
}

func banToView(record types.Ban) *types.BanView {
	return &types.BanView{
		ID:           record.ID,
		CreateUserID: record.CreateUserID,
		BannedUserID: record.BannedUserID,
		CreateDate:   record.CreateDate,
		ExpireDate:   record.ExpireDate,
		Message:      record.Message,
		Scope:        record.Scope,
	}
}

func variableToView(record types.UserVariable) *types.UserVariableView {
	return &types.UserVariableView{
		ID:         record.ID,
		UserID:     record.UserID,
		Key:        record.Key,
		Value:      record.Value,
		CreateDate: record.CreateDate,
		EditDate:   record.EditDate,
		EditCount:  record.EditCount,
	}
}

// ruleFor resolves the applicable write rule for one field under one action.
func ruleFor(descriptor types.TypeDescriptor, field string, action types.UserAction) types.WriteRule {
	info, ok := descriptor.Fields[field]
	if !ok {
		return types.RuleUser
	}
	if action == types.ActionCreate {
		return info.Rule.OnInsert
	}
	return info.Rule.OnUpdate
}

// mapper applies the descriptor's declarative write rules while copying view
// fields onto a storage record.
type mapper struct {
	descriptor types.TypeDescriptor
	action     types.UserAction
	requester  int64
	now        time.Time
}

func (m mapper) mapTime(field string, incoming, existing time.Time) time.Time {
	switch ruleFor(m.descriptor, field, m.action) {
	case types.RuleAutoDate:
		return m.now
	case types.RulePreserve:
		if m.action == types.ActionCreate {
			return time.Time{}
		}
		return existing
	default:
		return incoming
	}
}

func (m mapper) mapID(field string, incoming, existing int64) int64 {
	switch ruleFor(m.descriptor, field, m.action) {
	case types.RuleAutoUserID:
		return m.requester
	case types.RulePreserve:
		if m.action == types.ActionCreate {
			return 0
		}
		return existing
	case types.RuleIncrement:
		return existing + 1
	default:
		return incoming
	}
}

func (m mapper) mapString(field, incoming, existing string) string {
	switch ruleFor(m.descriptor, field, m.action) {
	case types.RulePreserve:
		if m.action == types.ActionCreate {
			return ""
		}
		return existing
	default:
		return incoming
	}
}

func (m mapper) mapBool(field string, incoming, existing bool) bool {
	switch ruleFor(m.descriptor, field, m.action) {
	case types.RulePreserve:
		if m.action == types.ActionCreate {
			return false
		}
		return existing
	default:
		return incoming
	}
}
