// Package cerrors defines the error taxonomy shared by the search engine and
// the write pipeline so transport layers can map failures to status codes.
package cerrors

import (
	"errors"
	"fmt"
)

// Category classifies a core failure for transport-level mapping.
type Category string

const (
	// CategoryArgument marks a malformed request shape: a caller bug, never retried.
	CategoryArgument Category = "argument"
	// CategoryForbidden marks an authenticated but unauthorized action.
	CategoryForbidden Category = "forbidden"
	// CategoryNotFound marks a reference that does not resolve, including soft-deleted rows.
	CategoryNotFound Category = "not_found"
	// CategoryRequest marks a well-formed request rejected by business policy.
	CategoryRequest Category = "request"
	// CategoryBanned marks an action blocked by an active ban.
	CategoryBanned Category = "banned"
	// CategoryInfrastructure marks a connection or transaction failure. Retry
	// decisions belong to layers outside the core.
	CategoryInfrastructure Category = "infrastructure"
)

// Error carries a category, the operation code that raised it, and an
// optional cause.
type Error struct {
	Category Category
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s: %s", e.Op, e.Category, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %v", e.Op, e.Category, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a categorized error.
func New(category Category, op, message string) *Error {
	return &Error{Category: category, Op: op, Message: message}
}

// Wrap constructs a categorized error around a cause.
func Wrap(category Category, op, message string, cause error) *Error {
	return &Error{Category: category, Op: op, Message: message, Err: cause}
}

// Newf constructs a categorized error with a formatted message.
func Newf(category Category, op, format string, args ...any) *Error {
	return &Error{Category: category, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CategoryOf extracts the category of err, defaulting to infrastructure for
// uncategorized failures.
func CategoryOf(err error) Category {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Category
	}
	return CategoryInfrastructure
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Category == category
	}
	return false
}
