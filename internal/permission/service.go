package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdentitySet is the immutable set of identity keys a requester carries:
// 0 for everyone, the requester's own id, and every group it belongs to.
type IdentitySet struct {
	IDs   []int64
	Super bool
}

// Contains reports whether id is in the set.
func (s IdentitySet) Contains(id int64) bool {
	for _, candidate := range s.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// AnonymousSet is the identity set of an unauthenticated requester.
func AnonymousSet() IdentitySet {
	return IdentitySet{IDs: []int64{0}}
}

// ServiceConfig describes the dependencies of the permission service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service answers row-level authorization questions for the search engine and
// the write pipeline. Lookups are indexed existence checks: one index descent
// on (contentId, userId) plus a row comparison per identity in the set.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

const (
	opIdentitySet = "permission.identity_set"
	opCanPerform  = "permission.can_perform"
)

// NewService constructs the permission service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("permission: database handle required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// IdentitySetFor resolves the requester's identity set. A zero requester is
// anonymous and resolves to {0}.
func (s *Service) IdentitySetFor(ctx context.Context, requesterID int64) (IdentitySet, error) {
	if requesterID <= 0 {
		return AnonymousSet(), nil
	}

	var requester types.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", requesterID, false).
		Take(&requester).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return IdentitySet{}, cerrors.Newf(cerrors.CategoryNotFound, opIdentitySet, "user %d not found", requesterID)
	}
	if err != nil {
		return IdentitySet{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opIdentitySet, "user lookup failed", err)
	}

	var groupIDs []int64
	err = s.db.WithContext(ctx).
		Model(&types.UserRelation{}).
		Where("type = ? AND userId = ?", types.RelationInGroup, requesterID).
		Pluck("relatedId", &groupIDs).Error
	if err != nil {
		return IdentitySet{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opIdentitySet, "group lookup failed", err)
	}

	ids := make([]int64, 0, len(groupIDs)+2)
	ids = append(ids, 0, requesterID)
	ids = append(ids, groupIDs...)
	return IdentitySet{IDs: ids, Super: requester.Super}, nil
}

// CanPerform reports whether the identity set may perform the action on the
// content row. Super identities bypass every check except read, which stays
// subject to the stored permission rows.
func (s *Service) CanPerform(ctx context.Context, set IdentitySet, action Action, contentID int64) (bool, error) {
	if set.Super && action != ActionRead {
		return true, nil
	}
	column := action.Column()
	if column == "" {
		return false, cerrors.Newf(cerrors.CategoryArgument, opCanPerform, "unknown action %q", string(action))
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&types.ContentPermission{}).
		Where(fmt.Sprintf("contentId = ? AND userId IN ? AND %q = ?", column), contentID, set.IDs, true).
		Limit(1).
		Count(&count).Error
	if err != nil {
		s.logger.Error("permission lookup failed",
			zap.String("operation", opCanPerform),
			zap.Int64("content_id", contentID),
			zap.Error(err))
		return false, cerrors.Wrap(cerrors.CategoryInfrastructure, opCanPerform, "permission lookup failed", err)
	}
	return count > 0, nil
}

// IsPublic reports whether the anonymous identity can read the content row.
func (s *Service) IsPublic(ctx context.Context, contentID int64) (bool, error) {
	return s.CanPerform(ctx, AnonymousSet(), ActionRead, contentID)
}
