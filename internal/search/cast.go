package search

import (
	"encoding/json"

	"github.com/driftboard/contentdb/internal/cerrors"
)

const opCast = "search.cast"

// CastResults converts raw row maps into a strongly-shaped view list purely
// by field-name matching. Rows may omit fields the request never selected;
// empty input yields an empty list.
func CastResults[T any](rows []map[string]any) ([]T, error) {
	views := make([]T, 0, len(rows))
	if len(rows) == 0 {
		return views, nil
	}

	encoded, err := json.Marshal(rows)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.CategoryInfrastructure, opCast, "row encoding failed", err)
	}
	if err := json.Unmarshal(encoded, &views); err != nil {
		return nil, cerrors.Wrap(cerrors.CategoryInfrastructure, opCast, "row decoding failed", err)
	}
	return views, nil
}
