package writer

import (
	"context"
	"errors"
	"regexp"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,64}$`)

func forbiddenErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryForbidden, opWrite, format, args...)
}

func requestErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryRequest, opWrite, format, args...)
}

func argumentErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryArgument, opWrite, format, args...)
}

func (w *Writer) fetchContent(ctx context.Context, id int64) (types.Content, error) {
	var record types.Content
	err := w.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Content{}, notFoundErr(types.KindContent, id)
	}
	if err != nil {
		return types.Content{}, infraErr(opWrite, "content lookup failed", err)
	}
	return record, nil
}

// identityKnown reports whether id names a live user or group.
func (w *Writer) identityKnown(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := w.db.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ? AND deleted = ?", id, false).
		Count(&count).Error
	if err != nil {
		return false, infraErr(opWrite, "identity lookup failed", err)
	}
	return count > 0, nil
}

// normalizePermissions validates and normalizes a view's permission map in
// place so persistence writes canonical CRUD strings.
func (w *Writer) normalizePermissions(ctx context.Context, perms map[int64]string) error {
	normalized, err := permission.ValidateMap(perms, func(id int64) (bool, error) {
		return w.identityKnown(ctx, id)
	})
	if err != nil {
		return err
	}
	for id, value := range normalized {
		perms[id] = value
	}
	return nil
}

// checkBan rejects the write when the requester carries an active ban whose
// scope covers the target's visibility class. Supers cannot be banned.
func (w *Writer) checkBan(ctx context.Context, unit *workUnit, public bool) error {
	if unit.requester.Super {
		return nil
	}
	scope := types.BanScopePrivate
	if public {
		scope = types.BanScopePublic
	}

	var count int64
	err := w.db.WithContext(ctx).
		Model(&types.Ban{}).
		Where("bannedUserId = ? AND expireDate > ? AND (scope & ?) <> 0", unit.requester.ID, w.clock(), scope).
		Count(&count).Error
	if err != nil {
		return infraErr(opWrite, "ban lookup failed", err)
	}
	if count > 0 {
		return cerrors.Newf(cerrors.CategoryBanned, opWrite, "user %d is banned from %v writes", unit.requester.ID, scopeName(public))
	}
	return nil
}

func scopeName(public bool) string {
	if public {
		return "public"
	}
	return "private"
}

// contentIsPublic reports whether a permission map grants everyone read.
func contentIsPublic(perms map[int64]string) bool {
	return permission.StringHas(perms[0], permission.ActionRead)
}

func (w *Writer) requirePermission(ctx context.Context, unit *workUnit, action permission.Action, contentID int64) error {
	allowed, err := w.perms.CanPerform(ctx, unit.requesterSet, action, contentID)
	if err != nil {
		return err
	}
	if !allowed {
		return forbiddenErr("user %d lacks %q permission on content %d", unit.requester.ID, string(action), contentID)
	}
	return nil
}

func (w *Writer) validateContent(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.ContentView)

	// Deletion only happens through the dedicated delete path.
	if unit.action != types.ActionDelete && view.Deleted {
		return requestErr("the deleted flag cannot be written directly")
	}

	if err := w.normalizePermissions(ctx, view.Permissions); err != nil {
		return err
	}

	if view.Type == types.ContentTypeSystem {
		return forbiddenErr("content type %d is reserved", view.Type)
	}
	if view.Type == types.ContentTypeModule {
		if !unit.requester.Super {
			return forbiddenErr("only super users may manage modules")
		}
		if err := w.checkDuplicateModule(ctx, view); err != nil {
			return err
		}
	}

	var existing *types.ContentView
	if unit.existing != nil {
		existing = unit.existing.(*types.ContentView)
	}

	// Creating under a parent, or moving to a new one, requires create
	// permission on that parent.
	parentChanged := unit.action == types.ActionCreate || (existing != nil && existing.ParentID != view.ParentID)
	if parentChanged && view.ParentID != 0 && !unit.requester.Super {
		if _, err := w.fetchContent(ctx, view.ParentID); err != nil {
			return err
		}
		if err := w.requirePermission(ctx, unit, permission.ActionCreate, view.ParentID); err != nil {
			return err
		}
	}

	switch unit.action {
	case types.ActionUpdate:
		if err := w.requirePermission(ctx, unit, permission.ActionUpdate, view.ID); err != nil {
			return err
		}
	case types.ActionDelete:
		if err := w.requirePermission(ctx, unit, permission.ActionDelete, view.ID); err != nil {
			return err
		}
	}

	public := contentIsPublic(view.Permissions)
	if existing != nil {
		public = contentIsPublic(existing.Permissions)
	}
	return w.checkBan(ctx, unit, public)
}

func (w *Writer) checkDuplicateModule(ctx context.Context, view *types.ContentView) error {
	query := w.db.WithContext(ctx).
		Model(&types.Content{}).
		Where("contentType = ? AND name = ? AND deleted = ?", types.ContentTypeModule, view.Name, false)
	if view.ID != 0 {
		query = query.Where("id <> ?", view.ID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return infraErr(opWrite, "module name lookup failed", err)
	}
	if count > 0 {
		return requestErr("a module named %q already exists", view.Name)
	}
	return nil
}

func (w *Writer) validateMessage(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.MessageView)

	if unit.action != types.ActionDelete && view.Deleted {
		return requestErr("the deleted flag cannot be written directly")
	}

	// The parent thread is re-validated on every action; rethreading a
	// message re-runs the read+create check against the new parent.
	if _, err := w.fetchContent(ctx, view.ContentID); err != nil {
		return err
	}
	if !unit.requester.Super {
		if err := w.requirePermission(ctx, unit, permission.ActionRead, view.ContentID); err != nil {
			return err
		}
		if err := w.requirePermission(ctx, unit, permission.ActionCreate, view.ContentID); err != nil {
			return err
		}
	}

	if unit.action != types.ActionCreate {
		existing := unit.existing.(*types.MessageView)
		if existing.Module != "" {
			return requestErr("module messages cannot be modified")
		}
		if existing.CreateUserID != unit.requester.ID && !unit.requester.Super {
			return forbiddenErr("only the author may %s message %d", unit.action, view.ID)
		}
	}

	public, err := w.perms.IsPublic(ctx, view.ContentID)
	if err != nil {
		return err
	}
	return w.checkBan(ctx, unit, public)
}

func (w *Writer) validateUser(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.UserView)

	if unit.action != types.ActionDelete && view.Deleted {
		return requestErr("the deleted flag cannot be written directly")
	}
	if !usernamePattern.MatchString(view.Username) {
		return argumentErr("username %q is not legal", view.Username)
	}

	var existing *types.UserView
	if unit.existing != nil {
		existing = unit.existing.(*types.UserView)
	}

	wasSuper := existing != nil && existing.Super
	if view.Super != wasSuper && !unit.requester.Super {
		return forbiddenErr("only super users may change the super flag")
	}

	if view.Avatar != "" {
		var count int64
		err := w.db.WithContext(ctx).
			Model(&types.Content{}).
			Where("hash = ? AND contentType = ? AND deleted = ?", view.Avatar, types.ContentTypeFile, false).
			Count(&count).Error
		if err != nil {
			return infraErr(opWrite, "avatar lookup failed", err)
		}
		if count == 0 {
			return argumentErr("avatar %q does not reference a stored file", view.Avatar)
		}
	}

	if view.Type != types.UserTypeGroup && len(view.Members) > 0 {
		return argumentErr("member lists are only meaningful for groups")
	}
	if view.Type == types.UserTypeGroup {
		if err := w.validateMembers(ctx, view.Members); err != nil {
			return err
		}
	}

	switch unit.action {
	case types.ActionCreate:
		// Ordinary accounts come from registration, never this path.
		if view.Type != types.UserTypeGroup {
			return forbiddenErr("users cannot be created through the write pipeline")
		}
	case types.ActionUpdate:
		if existing.Type == types.UserTypeGroup {
			if existing.CreateUserID != unit.requester.ID && !unit.requester.Super {
				return forbiddenErr("only the group creator may update group %d", view.ID)
			}
		} else if existing.ID != unit.requester.ID && !unit.requester.Super {
			return forbiddenErr("only the user or a super user may update user %d", view.ID)
		}
	case types.ActionDelete:
		if existing.Type == types.UserTypeGroup {
			if existing.CreateUserID != unit.requester.ID && !unit.requester.Super {
				return forbiddenErr("only the group creator may delete group %d", view.ID)
			}
		} else if !unit.requester.Super {
			return forbiddenErr("only super users may delete users")
		}
	}
	return nil
}

func (w *Writer) validateMembers(ctx context.Context, members []int64) error {
	seen := map[int64]bool{}
	for _, member := range members {
		if seen[member] {
			return argumentErr("duplicate group member %d", member)
		}
		seen[member] = true

		var count int64
		err := w.db.WithContext(ctx).
			Model(&types.User{}).
			Where("id = ? AND type = ? AND deleted = ?", member, types.UserTypeUser, false).
			Count(&count).Error
		if err != nil {
			return infraErr(opWrite, "member lookup failed", err)
		}
		if count == 0 {
			return argumentErr("group member %d is not a known user", member)
		}
	}
	return nil
}

func (w *Writer) validateBan(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.BanView)

	if unit.action == types.ActionDelete {
		return requestErr("bans cannot be deleted, only amended")
	}
	if !unit.requester.Super {
		return forbiddenErr("only super users may manage bans")
	}

	var target types.User
	err := w.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", view.BannedUserID, false).
		Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr(types.KindUser, view.BannedUserID)
	}
	if err != nil {
		return infraErr(opWrite, "ban target lookup failed", err)
	}
	if target.Type != types.UserTypeUser {
		return argumentErr("ban target %d must be an ordinary user", view.BannedUserID)
	}
	return nil
}

func (w *Writer) validateWatch(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.WatchView)
	return w.validateRelation(ctx, unit, view.ContentID, func() (int64, error) {
		var count int64
		err := w.db.WithContext(ctx).
			Model(&types.ContentWatch{}).
			Where("userId = ? AND contentId = ?", unit.requester.ID, view.ContentID).
			Count(&count).Error
		return count, err
	}, func() int64 {
		if unit.existing == nil {
			return 0
		}
		return unit.existing.(*types.WatchView).UserID
	})
}

func (w *Writer) validateVote(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.VoteView)
	return w.validateRelation(ctx, unit, view.ContentID, func() (int64, error) {
		var count int64
		err := w.db.WithContext(ctx).
			Model(&types.ContentVote{}).
			Where("userId = ? AND contentId = ?", unit.requester.ID, view.ContentID).
			Count(&count).Error
		return count, err
	}, func() int64 {
		if unit.existing == nil {
			return 0
		}
		return unit.existing.(*types.VoteView).UserID
	})
}

// validateRelation covers the shared watch/vote rules: read access and no
// duplicate relation on create, owner-only update/delete.
func (w *Writer) validateRelation(ctx context.Context, unit *workUnit, contentID int64, countDuplicates func() (int64, error), owner func() int64) error {
	switch unit.action {
	case types.ActionCreate:
		if _, err := w.fetchContent(ctx, contentID); err != nil {
			return err
		}
		if err := w.requirePermission(ctx, unit, permission.ActionRead, contentID); err != nil {
			return err
		}
		count, err := countDuplicates()
		if err != nil {
			return infraErr(opWrite, "relation lookup failed", err)
		}
		if count > 0 {
			return requestErr("user %d already has a %s on content %d", unit.requester.ID, unit.view.Kind(), contentID)
		}
	default:
		if owner() != unit.requester.ID {
			return forbiddenErr("only the owner may %s this %s", unit.action, unit.view.Kind())
		}
	}
	return nil
}

func (w *Writer) validateUserVariable(ctx context.Context, unit *workUnit) error {
	view := unit.view.(*types.UserVariableView)

	switch unit.action {
	case types.ActionCreate:
		var count int64
		err := w.db.WithContext(ctx).
			Model(&types.UserVariable{}).
			Where(`userId = ? AND "key" = ?`, unit.requester.ID, view.Key).
			Count(&count).Error
		if err != nil {
			return infraErr(opWrite, "variable lookup failed", err)
		}
		if count > 0 {
			return requestErr("user %d already has a variable named %q", unit.requester.ID, view.Key)
		}
	default:
		if unit.existing.(*types.UserVariableView).UserID != unit.requester.ID {
			return forbiddenErr("only the owner may %s this variable", unit.action)
		}
	}
	return nil
}
