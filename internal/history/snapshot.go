// Package history converts between live records and the immutable snapshots
// stored in content_history rows.
package history

import (
	"encoding/json"
	"time"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/types"
)

const (
	opToHistory = "history.to_history"
	opToSnap    = "history.to_snapshot"
)

// ContentSnapshot is a point-in-time copy of a content record and its child
// collections. Never mutated once written.
type ContentSnapshot struct {
	Content     types.Content     `json:"content"`
	Keywords    []string          `json:"keywords"`
	Values      map[string]string `json:"values"`
	Permissions map[int64]string  `json:"permissions"`
}

// SnapshotToHistory serializes a snapshot into a history row attributed to
// the acting user.
func SnapshotToHistory(snapshot ContentSnapshot, userID int64, action types.UserAction, at time.Time) (types.ContentHistory, error) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return types.ContentHistory{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opToHistory, "snapshot encoding failed", err)
	}
	return types.ContentHistory{
		ContentID:    snapshot.Content.ID,
		CreateUserID: userID,
		CreateDate:   at,
		Action:       action,
		Snapshot:     string(encoded),
	}, nil
}

// HistoryToSnapshot decodes a stored history row back into a snapshot.
func HistoryToSnapshot(record types.ContentHistory) (ContentSnapshot, error) {
	var snapshot ContentSnapshot
	if err := json.Unmarshal([]byte(record.Snapshot), &snapshot); err != nil {
		return ContentSnapshot{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opToSnap, "snapshot decoding failed", err)
	}
	return snapshot, nil
}

// MessageSnapshot is a point-in-time copy of a message and its values.
type MessageSnapshot struct {
	Message types.Message     `json:"message"`
	Values  map[string]string `json:"values"`
}

// MessageSnapshotToHistory serializes a message snapshot into a history row.
func MessageSnapshotToHistory(snapshot MessageSnapshot, userID int64, action types.UserAction, at time.Time) (types.MessageHistory, error) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return types.MessageHistory{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opToHistory, "snapshot encoding failed", err)
	}
	return types.MessageHistory{
		MessageID:    snapshot.Message.ID,
		CreateUserID: userID,
		CreateDate:   at,
		Action:       action,
		Snapshot:     string(encoded),
	}, nil
}

// HistoryToMessageSnapshot decodes a stored message history row.
func HistoryToMessageSnapshot(record types.MessageHistory) (MessageSnapshot, error) {
	var snapshot MessageSnapshot
	if err := json.Unmarshal([]byte(record.Snapshot), &snapshot); err != nil {
		return MessageSnapshot{}, cerrors.Wrap(cerrors.CategoryInfrastructure, opToSnap, "snapshot decoding failed", err)
	}
	return snapshot, nil
}
