package writer

import (
	"context"
	"fmt"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opRethread = "writer.rethread"

// Message value keys stamped on the boundary messages of a rethread batch so
// the original thread remains traceable.
const (
	rethreadStartKey = "rethreadStart"
	rethreadEndKey   = "rethreadEnd"
)

// RethreadMessages moves a batch of messages under a new parent content row
// in one transaction. The first and last moved messages are stamped with the
// original content id and the batch size.
func (w *Writer) RethreadMessages(ctx context.Context, messageIDs []int64, newContentID int64, requesterID int64) ([]types.View, error) {
	if len(messageIDs) == 0 {
		return nil, cerrors.New(cerrors.CategoryArgument, opRethread, "rethread requires at least one message")
	}
	requester, err := w.resolveRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	requesterSet, err := w.perms.IdentitySetFor(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	if _, err := w.fetchContent(ctx, newContentID); err != nil {
		return nil, err
	}
	if !requester.Super {
		for _, action := range []permission.Action{permission.ActionRead, permission.ActionCreate} {
			allowed, err := w.perms.CanPerform(ctx, requesterSet, action, newContentID)
			if err != nil {
				return nil, err
			}
			if !allowed {
				return nil, cerrors.Newf(cerrors.CategoryForbidden, opRethread, "user %d lacks %q permission on content %d", requesterID, string(action), newContentID)
			}
		}
	}

	// Validate the whole batch before touching anything.
	moved := make([]*types.MessageView, 0, len(messageIDs))
	originalContentID := int64(0)
	for _, id := range messageIDs {
		view, err := w.loadMessageView(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if view.Module != "" {
			return nil, cerrors.Newf(cerrors.CategoryRequest, opRethread, "module message %d cannot be rethreaded", id)
		}
		if view.CreateUserID != requesterID && !requester.Super {
			return nil, cerrors.Newf(cerrors.CategoryForbidden, opRethread, "only the author may rethread message %d", id)
		}
		if originalContentID == 0 {
			originalContentID = view.ContentID
		} else if view.ContentID != originalContentID {
			return nil, cerrors.Newf(cerrors.CategoryArgument, opRethread, "message %d does not belong to thread %d", id, originalContentID)
		}
		moved = append(moved, view)
	}
	if originalContentID == newContentID {
		return nil, cerrors.Newf(cerrors.CategoryRequest, opRethread, "messages already belong to content %d", newContentID)
	}

	now := w.clock()
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, view := range moved {
			result := tx.Model(&types.Message{}).
				Where("id = ?", view.ID).
				Updates(map[string]any{
					"contentId":  newContentID,
					"editUserId": requesterID,
					"editDate":   now,
				})
			if result.Error != nil {
				return infraErr(opRethread, "message move failed", result.Error)
			}
		}

		marker := fmt.Sprintf("%d:%d", originalContentID, len(moved))
		if err := stampRethreadMarker(tx, moved[0].ID, rethreadStartKey, marker); err != nil {
			return err
		}
		if err := stampRethreadMarker(tx, moved[len(moved)-1].ID, rethreadEndKey, marker); err != nil {
			return err
		}

		text := fmt.Sprintf("%d messages moved from content %d to %d", len(moved), originalContentID, newContentID)
		return appendAdminLog(tx, types.AdminLogMessageRethread, requesterID, newContentID, text, now)
	})
	if err != nil {
		w.logger.Error("rethread failed",
			zap.String("operation", opRethread),
			zap.Int64("target", newContentID),
			zap.Int64("requester", requesterID),
			zap.Int("batch", len(messageIDs)),
			zap.Error(err))
		return nil, err
	}

	if w.events != nil {
		for _, view := range moved {
			w.events.Publish(events.NewLiveEvent(requesterID, string(types.ActionUpdate), events.CategoryMessage, view.ID, newContentID, now))
		}
	}

	results := make([]types.View, 0, len(moved))
	for _, view := range moved {
		fresh, err := w.loadMessageView(ctx, view.ID, false)
		if err != nil {
			return nil, err
		}
		results = append(results, fresh)
	}
	return results, nil
}

func stampRethreadMarker(tx *gorm.DB, messageID int64, key, marker string) error {
	if err := tx.Where(`messageId = ? AND "key" = ?`, messageID, key).Delete(&types.MessageValue{}).Error; err != nil {
		return infraErr(opRethread, "marker clear failed", err)
	}
	row := types.MessageValue{MessageID: messageID, Key: key, Value: marker}
	if err := tx.Create(&row).Error; err != nil {
		return infraErr(opRethread, "marker insert failed", err)
	}
	return nil
}
