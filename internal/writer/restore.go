package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/history"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opRestore = "writer.restore"

// RestoreRevision rolls a content row back to the state captured by one of
// its history snapshots. The restore itself is recorded as a fresh history
// row, so the timeline only ever grows.
func (w *Writer) RestoreRevision(ctx context.Context, historyID int64, requesterID int64) (types.View, error) {
	if historyID <= 0 {
		return nil, cerrors.Newf(cerrors.CategoryArgument, opRestore, "restore requires a positive revision id, got %d", historyID)
	}
	requester, err := w.resolveRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	requesterSet, err := w.perms.IdentitySetFor(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var row types.ContentHistory
	err = w.db.WithContext(ctx).Where("id = ?", historyID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cerrors.Newf(cerrors.CategoryNotFound, opRestore, "revision %d not found", historyID)
	}
	if err != nil {
		return nil, infraErr(opRestore, "revision lookup failed", err)
	}

	snapshot, err := history.HistoryToSnapshot(row)
	if err != nil {
		return nil, err
	}

	if !requester.Super {
		allowed, err := w.perms.CanPerform(ctx, requesterSet, permission.ActionUpdate, row.ContentID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, cerrors.Newf(cerrors.CategoryForbidden, opRestore, "user %d lacks update permission on content %d", requesterID, row.ContentID)
		}
	}

	var latest int64
	err = w.db.WithContext(ctx).
		Model(&types.ContentHistory{}).
		Where("contentId = ?", row.ContentID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&latest).Error
	if err != nil {
		return nil, infraErr(opRestore, "revision lookup failed", err)
	}
	if latest == historyID {
		return nil, cerrors.Newf(cerrors.CategoryRequest, opRestore, "revision %d is already current", historyID)
	}

	now := w.clock()
	record := snapshot.Content
	record.Deleted = false

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current types.Content
		if err := rowLock(tx).Where("id = ?", record.ID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundErr(types.KindContent, record.ID)
			}
			return infraErr(opRestore, "content lock failed", err)
		}
		if err := tx.Save(&record).Error; err != nil {
			return infraErr(opRestore, "content restore failed", err)
		}
		if err := replaceContentChildren(tx, record.ID, snapshot.Keywords, snapshot.Values, snapshot.Permissions); err != nil {
			return err
		}

		restored := history.ContentSnapshot{
			Content:     record,
			Keywords:    snapshot.Keywords,
			Values:      snapshot.Values,
			Permissions: snapshot.Permissions,
		}
		fresh, err := history.SnapshotToHistory(restored, requesterID, types.ActionUpdate, now)
		if err != nil {
			return err
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return infraErr(opRestore, "history insert failed", err)
		}

		text := fmt.Sprintf("content %d restored to revision %d", record.ID, historyID)
		return appendAdminLog(tx, types.AdminLogContentRestore, requesterID, record.ID, text, now)
	})
	if err != nil {
		w.logger.Error("restore failed",
			zap.String("operation", opRestore),
			zap.Int64("revision", historyID),
			zap.Int64("requester", requesterID),
			zap.Error(err))
		return nil, err
	}

	if w.events != nil {
		w.events.Publish(events.NewLiveEvent(requesterID, string(types.ActionUpdate), events.CategoryContent, record.ID, record.ParentID, now))
	}
	return w.loadContentView(ctx, record.ID, false)
}
