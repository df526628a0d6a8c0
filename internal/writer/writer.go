// Package writer is the single authorized path through which user-mutable
// records are created, updated, or deleted: business validation, declarative
// field mapping, history snapshots, audit logging, and change notification,
// one transaction per call.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config describes the dependencies and tuning of the write pipeline.
type Config struct {
	Database    *gorm.DB
	Registry    *types.Registry
	Permissions *permission.Service
	Events      events.Publisher
	Logger      *zap.Logger
	Clock       func() time.Time
	HashLength  int
	HashRetries int
}

// Writer validates and persists every writable view kind.
type Writer struct {
	db       *gorm.DB
	registry *types.Registry
	perms    *permission.Service
	events   events.Publisher
	logger   *zap.Logger
	clock    func() time.Time
	hashes   *hashGenerator
}

const (
	opWrite  = "writer.write"
	opDelete = "writer.delete"
)

// NewWriter constructs the write pipeline.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("writer: database handle required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("writer: type registry required")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("writer: permission service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Writer{
		db:       cfg.Database,
		registry: cfg.Registry,
		perms:    cfg.Permissions,
		events:   cfg.Events,
		logger:   logger,
		clock:    clock,
		hashes:   newHashGenerator(cfg.Database, cfg.HashLength, cfg.HashRetries),
	}, nil
}

// workUnit is the ephemeral bundle passed through validation and persistence
// for one write call. Discarded after the transaction settles.
type workUnit struct {
	view         types.View
	existing     types.View
	requester    types.UserView
	requesterSet permission.IdentitySet
	descriptor   types.TypeDescriptor
	action       types.UserAction
	message      string
}

// Write creates or updates a view: create when the view carries no identity,
// update otherwise. The returned view is re-read from the store so callers
// never see client-supplied data masquerading as server truth.
func (w *Writer) Write(ctx context.Context, view types.View, requesterID int64, message string) (types.View, error) {
	action := types.ActionUpdate
	if view.ViewID() == 0 {
		action = types.ActionCreate
	}
	return w.apply(ctx, view, requesterID, action, message)
}

// Delete re-fetches the current stored view, then funnels into the generic
// operation as a delete.
func (w *Writer) Delete(ctx context.Context, kind types.RequestKind, id int64, requesterID int64, message string) (types.View, error) {
	if id <= 0 {
		return nil, cerrors.Newf(cerrors.CategoryArgument, opDelete, "delete requires a positive id, got %d", id)
	}
	view, err := w.loadView(ctx, kind, id, false)
	if err != nil {
		return nil, err
	}
	return w.apply(ctx, view, requesterID, types.ActionDelete, message)
}

func (w *Writer) apply(ctx context.Context, view types.View, requesterID int64, action types.UserAction, message string) (types.View, error) {
	requester, err := w.resolveRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	requesterSet, err := w.perms.IdentitySetFor(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	if err := checkStructuralID(view, action); err != nil {
		return nil, err
	}

	var existing types.View
	if action != types.ActionCreate {
		existing, err = w.loadView(ctx, view.Kind(), view.ViewID(), false)
		if err != nil {
			return nil, err
		}
	}

	descriptor, err := w.registry.Describe(view.Kind())
	if err != nil {
		return nil, err
	}

	unit := &workUnit{
		view:         view,
		existing:     existing,
		requester:    requester,
		requesterSet: requesterSet,
		descriptor:   descriptor,
		action:       action,
		message:      message,
	}

	if err := w.validate(ctx, unit); err != nil {
		return nil, err
	}

	id, event, err := w.persist(ctx, unit)
	if err != nil {
		w.logger.Error("write failed",
			zap.String("operation", opWrite),
			zap.String("kind", string(view.Kind())),
			zap.String("action", string(action)),
			zap.Int64("requester", requesterID),
			zap.Error(err))
		return nil, err
	}

	if w.events != nil && event != nil {
		w.events.Publish(*event)
	}

	if permanentDelete(view.Kind(), action) {
		view.SetViewID(id)
		return view, nil
	}
	return w.loadView(ctx, view.Kind(), id, action == types.ActionDelete)
}

// validate dispatches the per-kind business rules; all rules run before any
// mutation and none have side effects on failure.
func (w *Writer) validate(ctx context.Context, unit *workUnit) error {
	switch unit.view.Kind() {
	case types.KindContent:
		return w.validateContent(ctx, unit)
	case types.KindMessage:
		return w.validateMessage(ctx, unit)
	case types.KindUser:
		return w.validateUser(ctx, unit)
	case types.KindWatch:
		return w.validateWatch(ctx, unit)
	case types.KindVote:
		return w.validateVote(ctx, unit)
	case types.KindBan:
		return w.validateBan(ctx, unit)
	case types.KindUserVariable:
		return w.validateUserVariable(ctx, unit)
	}
	return cerrors.Newf(cerrors.CategoryRequest, opWrite, "kind %q is not writable", unit.view.Kind())
}

func (w *Writer) persist(ctx context.Context, unit *workUnit) (int64, *events.LiveEvent, error) {
	switch unit.view.Kind() {
	case types.KindContent:
		return w.persistContent(ctx, unit)
	case types.KindMessage:
		return w.persistMessage(ctx, unit)
	case types.KindUser:
		return w.persistUser(ctx, unit)
	case types.KindWatch:
		return w.persistWatch(ctx, unit)
	case types.KindVote:
		return w.persistVote(ctx, unit)
	case types.KindBan:
		return w.persistBan(ctx, unit)
	case types.KindUserVariable:
		return w.persistUserVariable(ctx, unit)
	}
	return 0, nil, cerrors.Newf(cerrors.CategoryRequest, opWrite, "kind %q is not writable", unit.view.Kind())
}

// permanentDelete reports whether a delete physically removes the row, in
// which case there is nothing authoritative to re-read.
func permanentDelete(kind types.RequestKind, action types.UserAction) bool {
	if action != types.ActionDelete {
		return false
	}
	switch kind {
	case types.KindWatch, types.KindVote, types.KindUserVariable:
		return true
	}
	return false
}

func checkStructuralID(view types.View, action types.UserAction) error {
	id := view.ViewID()
	if action == types.ActionCreate && id != 0 {
		return cerrors.Newf(cerrors.CategoryArgument, opWrite, "create requires a zero id, got %d", id)
	}
	if action != types.ActionCreate && id <= 0 {
		return cerrors.Newf(cerrors.CategoryArgument, opWrite, "%s requires a positive id, got %d", action, id)
	}
	return nil
}

// resolveRequester maps the acting id onto its stored user view.
func (w *Writer) resolveRequester(ctx context.Context, requesterID int64) (types.UserView, error) {
	if requesterID <= 0 {
		return types.UserView{}, cerrors.Newf(cerrors.CategoryForbidden, opWrite, "requester id %d cannot write", requesterID)
	}
	var user types.User
	err := w.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", requesterID, false).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.UserView{}, cerrors.Newf(cerrors.CategoryNotFound, opWrite, "requester %d does not exist", requesterID)
	}
	if err != nil {
		return types.UserView{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opWrite, "requester lookup failed", err)
	}
	return userToView(user, nil, nil), nil
}

// loadView re-fetches the authoritative state of one record as a view.
// Lookups exclude soft-deleted rows unless includeDeleted is set.
func (w *Writer) loadView(ctx context.Context, kind types.RequestKind, id int64, includeDeleted bool) (types.View, error) {
	switch kind {
	case types.KindContent, types.KindModule, types.KindFile:
		return w.loadContentView(ctx, id, includeDeleted)
	case types.KindMessage:
		return w.loadMessageView(ctx, id, includeDeleted)
	case types.KindUser:
		return w.loadUserView(ctx, id, includeDeleted)
	case types.KindWatch:
		return loadSimpleView(ctx, w.db, id, watchToView)
	case types.KindVote:
		return loadSimpleView(ctx, w.db, id, voteToView)
	case types.KindBan:
		return loadSimpleView(ctx, w.db, id, banToView)
	case types.KindUserVariable:
		return loadSimpleView(ctx, w.db, id, variableToView)
	}
	return nil, cerrors.Newf(cerrors.CategoryArgument, opWrite, "kind %q has no view loader", kind)
}

func notFoundErr(kind types.RequestKind, id int64) error {
	return cerrors.Newf(cerrors.CategoryNotFound, opWrite, "%s %d not found", kind, id)
}

func infraErr(op, message string, err error) error {
	return cerrors.Wrap(cerrors.CategoryInfrastructure, op, message, err)
}

func (w *Writer) loadContentView(ctx context.Context, id int64, includeDeleted bool) (*types.ContentView, error) {
	db := w.db.WithContext(ctx)

	var record types.Content
	query := db.Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if err := query.Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr(types.KindContent, id)
		}
		return nil, infraErr(opWrite, "content lookup failed", err)
	}

	var keywords []types.ContentKeyword
	if err := db.Where("contentId = ?", id).Order("id").Find(&keywords).Error; err != nil {
		return nil, infraErr(opWrite, "keyword lookup failed", err)
	}
	var values []types.ContentValue
	if err := db.Where("contentId = ?", id).Find(&values).Error; err != nil {
		return nil, infraErr(opWrite, "value lookup failed", err)
	}
	var perms []types.ContentPermission
	if err := db.Where("contentId = ?", id).Find(&perms).Error; err != nil {
		return nil, infraErr(opWrite, "permission lookup failed", err)
	}

	view := contentToView(record, keywords, values, perms)

	var lastRevision int64
	err := db.Model(&types.ContentHistory{}).
		Where("contentId = ?", id).
		Select("COALESCE(MAX(id), 0)").
		Scan(&lastRevision).Error
	if err != nil {
		return nil, infraErr(opWrite, "revision lookup failed", err)
	}
	view.LastRevisionID = lastRevision

	return view, nil
}

func (w *Writer) loadMessageView(ctx context.Context, id int64, includeDeleted bool) (*types.MessageView, error) {
	db := w.db.WithContext(ctx)

	var record types.Message
	query := db.Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if err := query.Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr(types.KindMessage, id)
		}
		return nil, infraErr(opWrite, "message lookup failed", err)
	}

	var values []types.MessageValue
	if err := db.Where("messageId = ?", id).Find(&values).Error; err != nil {
		return nil, infraErr(opWrite, "message value lookup failed", err)
	}
	return messageToView(record, values), nil
}

func (w *Writer) loadUserView(ctx context.Context, id int64, includeDeleted bool) (*types.UserView, error) {
	db := w.db.WithContext(ctx)

	var record types.User
	query := db.Where("id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted = ?", false)
	}
	if err := query.Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr(types.KindUser, id)
		}
		return nil, infraErr(opWrite, "user lookup failed", err)
	}

	var groups []int64
	err := db.Model(&types.UserRelation{}).
		Where("type = ? AND userId = ?", types.RelationInGroup, id).
		Pluck("relatedId", &groups).Error
	if err != nil {
		return nil, infraErr(opWrite, "group lookup failed", err)
	}

	var members []int64
	if record.Type == types.UserTypeGroup {
		err = db.Model(&types.UserRelation{}).
			Where("type = ? AND relatedId = ?", types.RelationInGroup, id).
			Order("userId").
			Pluck("userId", &members).Error
		if err != nil {
			return nil, infraErr(opWrite, "member lookup failed", err)
		}
	}

	view := userToView(record, groups, members)
	return &view, nil
}

func loadSimpleView[R any, V types.View](ctx context.Context, db *gorm.DB, id int64, convert func(R) V) (types.View, error) {
	var record R
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var zero V
			return nil, notFoundErr(zero.Kind(), id)
		}
		return nil, infraErr(opWrite, "record lookup failed", err)
	}
	return convert(record), nil
}

// rowLock issues a SELECT ... FOR UPDATE-style lock clause. SQLite serializes
// writers anyway; the clause documents intent and holds on stores that honor it.
func rowLock(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
