package permission

import (
	"strings"

	"github.com/driftboard/contentdb/internal/cerrors"
)

// Action is one CRUD capability letter.
type Action byte

const (
	ActionCreate Action = 'C'
	ActionRead   Action = 'R'
	ActionUpdate Action = 'U'
	ActionDelete Action = 'D'
)

const opValidateMap = "permission.validate_map"

// Column returns the content_permissions column backing the action.
func (a Action) Column() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return ""
}

// ActionFromLetter parses a single case-insensitive CRUD letter.
func ActionFromLetter(letter string) (Action, bool) {
	trimmed := strings.ToUpper(strings.TrimSpace(letter))
	if len(trimmed) != 1 {
		return 0, false
	}
	action := Action(trimmed[0])
	switch action {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return action, true
	}
	return 0, false
}

// NormalizeString strips whitespace, uppercases, dedupes, and verifies the
// string stays inside the CRUD alphabet. Normalization is idempotent.
func NormalizeString(raw string) (string, error) {
	seen := map[byte]bool{}
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch == ' ' || ch == '\t' {
			continue
		}
		upper := byte(strings.ToUpper(string(ch))[0])
		switch Action(upper) {
		case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
			seen[upper] = true
		default:
			return "", cerrors.Newf(cerrors.CategoryArgument, opValidateMap, "invalid permission character %q", string(ch))
		}
	}
	var sb strings.Builder
	for _, ch := range []byte("CRUD") {
		if seen[ch] {
			sb.WriteByte(ch)
		}
	}
	return sb.String(), nil
}

// ValidateMap normalizes an identity-keyed permission map: negative
// identities and identities naming nobody are rejected, values collapse to
// canonical CRUD strings. knownIdentity reports whether a non-zero id names a
// real user or group; identity zero is the everyone entry and is always legal.
func ValidateMap(raw map[int64]string, knownIdentity func(id int64) (bool, error)) (map[int64]string, error) {
	normalized := make(map[int64]string, len(raw))
	for id, rawValue := range raw {
		if id < 0 {
			return nil, cerrors.Newf(cerrors.CategoryArgument, opValidateMap, "invalid permission identity %d", id)
		}
		if id != 0 {
			known, err := knownIdentity(id)
			if err != nil {
				return nil, err
			}
			if !known {
				return nil, cerrors.Newf(cerrors.CategoryArgument, opValidateMap, "unknown permission identity %d", id)
			}
		}
		value, err := NormalizeString(rawValue)
		if err != nil {
			return nil, err
		}
		normalized[id] = value
	}
	return normalized, nil
}

// StringHas reports whether a normalized CRUD string carries the action bit.
func StringHas(normalized string, action Action) bool {
	return strings.ContainsRune(normalized, rune(action))
}
