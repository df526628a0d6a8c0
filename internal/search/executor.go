package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Results maps request names to raw row sets.
type Results map[string][]map[string]any

// ExecutorConfig describes the dependencies of the search executor.
type ExecutorConfig struct {
	Database    *gorm.DB
	Builder     *Builder
	Permissions *permission.Service
	Logger      *zap.Logger
}

// Executor runs request batches strictly in declared order, feeding each
// result set forward as a value source for later requests.
type Executor struct {
	db      *gorm.DB
	builder *Builder
	perms   *permission.Service
	logger  *zap.Logger
}

const (
	opSearch = "search.execute"

	// Value keys with this prefix are reserved for executor injection.
	reservedValuePrefix = "search_"

	identityValueKey  = "search_identities"
	requesterValueKey = "search_requester"
)

// NewExecutor constructs the executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("search: database handle required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("search: builder required")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("search: permission service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{db: cfg.Database, builder: cfg.Builder, perms: cfg.Permissions, logger: logger}, nil
}

// Search executes a batch without permission restriction. This is the
// security-sensitive escape hatch for trusted internal callers; user-facing
// reads go through SearchRestricted.
func (e *Executor) Search(ctx context.Context, batch SearchRequestBatch) (Results, error) {
	if err := e.precheck(batch, false); err != nil {
		return nil, err
	}
	return e.run(ctx, batch)
}

// SearchRestricted executes a batch with the caller's identity set ANDed into
// every permission-bearing request. Batches are all-or-nothing: a failure
// anywhere returns no partial result map.
func (e *Executor) SearchRestricted(ctx context.Context, batch SearchRequestBatch, requesterID int64) (Results, error) {
	if err := e.precheck(batch, true); err != nil {
		return nil, err
	}

	set, err := e.perms.IdentitySetFor(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	restricted := SearchRequestBatch{
		Values:   make(map[string]any, len(batch.Values)+2),
		Requests: make([]SearchRequest, 0, len(batch.Requests)),
	}
	for key, value := range batch.Values {
		restricted.Values[key] = value
	}
	restricted.Values[identityValueKey] = set.IDs
	restricted.Values[requesterValueKey] = requesterID

	for _, request := range batch.Requests {
		descriptor, err := e.builder.registry.Describe(types.RequestKind(request.Type))
		if err != nil {
			return nil, err
		}
		if descriptor.SuperOnly && !set.Super {
			return nil, cerrors.Newf(cerrors.CategoryForbidden, opSearch, "type %q requires a super identity", request.Type)
		}
		restricted.Requests = append(restricted.Requests, restrictRequest(request, descriptor, set))
	}

	return e.run(ctx, restricted)
}

// restrictRequest ANDs the permission or ownership limit into the request
// query. Super identities bypass read filtering entirely.
func restrictRequest(request SearchRequest, descriptor types.TypeDescriptor, set permission.IdentitySet) SearchRequest {
	if set.Super {
		return request
	}

	var limit string
	switch {
	case descriptor.PermissionField != "":
		limit = fmt.Sprintf("!permissionlimit(@%s, %s, R)", identityValueKey, descriptor.PermissionField)
	case descriptor.OwnerField != "":
		limit = fmt.Sprintf("%s = @%s", descriptor.OwnerField, requesterValueKey)
	default:
		return request
	}

	if strings.TrimSpace(request.Query) == "" {
		request.Query = limit
	} else {
		request.Query = fmt.Sprintf("(%s) AND %s", request.Query, limit)
	}
	return request
}

// precheck validates the whole batch before anything runs, so a batch-level
// validation error never observes partial execution.
func (e *Executor) precheck(batch SearchRequestBatch, rejectReserved bool) error {
	for key := range batch.Values {
		if rejectReserved && strings.HasPrefix(key, reservedValuePrefix) {
			return cerrors.Newf(cerrors.CategoryArgument, opSearch, "value key %q uses the reserved %q prefix", key, reservedValuePrefix)
		}
	}

	seen := map[string]bool{}
	for _, request := range batch.Requests {
		if !identifierPattern.MatchString(request.Name) {
			return cerrors.Newf(cerrors.CategoryArgument, opSearch, "request name %q is not a legal identifier", request.Name)
		}
		if seen[request.Name] {
			return cerrors.Newf(cerrors.CategoryArgument, opSearch, "duplicate request name %q", request.Name)
		}
		if _, collides := batch.Values[request.Name]; collides {
			return cerrors.Newf(cerrors.CategoryArgument, opSearch, "request name %q collides with a value key", request.Name)
		}
		seen[request.Name] = true
		if _, err := e.builder.registry.Describe(types.RequestKind(request.Type)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, batch SearchRequestBatch) (Results, error) {
	results := Results{}
	chain := map[string][]map[string]any{}

	for _, request := range batch.Requests {
		compiled, err := e.builder.Compile(request, batch.Values, chain)
		if err != nil {
			return nil, wrapRequestErr(request.Name, err)
		}

		rows, err := e.execute(ctx, compiled)
		if err != nil {
			e.logger.Error("search request failed",
				zap.String("operation", opSearch),
				zap.String("request", request.Name),
				zap.Error(err))
			return nil, wrapRequestErr(request.Name, err)
		}

		results[request.Name] = rows
		chain[request.Name] = rows
	}
	return results, nil
}

// wrapRequestErr names the offending request on compilation and execution
// failures while preserving the underlying category.
func wrapRequestErr(name string, err error) error {
	return cerrors.Wrap(cerrors.CategoryOf(err), opSearch, fmt.Sprintf("request %q failed", name), err)
}

func (e *Executor) execute(ctx context.Context, compiled *CompiledRequest) ([]map[string]any, error) {
	flatSQL, args, err := flattenSQL(compiled.SQL, compiled.Params)
	if err != nil {
		return nil, err
	}

	rows := []map[string]any{}
	if err := e.db.WithContext(ctx).Raw(flatSQL, args...).Scan(&rows).Error; err != nil {
		return nil, cerrors.Wrap(cerrors.CategoryInfrastructure, opSearch, "query execution failed", err)
	}
	return rows, nil
}

// flattenSQL rewrites @name placeholders into positional parameters,
// expanding slice values into parenthesized lists so no driver-specific
// named-argument behavior is relied on. Empty lists render as (NULL), which
// matches nothing under IN.
func flattenSQL(sql string, params map[string]any) (string, []any, error) {
	var sb strings.Builder
	args := []any{}
	i := 0
	for i < len(sql) {
		ch := sql[i]
		if ch != '@' {
			sb.WriteByte(ch)
			i++
			continue
		}

		start := i + 1
		j := start
		for j < len(sql) && isIdentPart(sql[j]) {
			j++
		}
		name := sql[start:j]
		value, ok := params[name]
		if !ok {
			return "", nil, cerrors.Newf(cerrors.CategoryArgument, opSearch, "parameter @%s has no value", name)
		}

		if list, isList := asList(value); isList {
			if len(list) == 0 {
				sb.WriteString("(NULL)")
			} else {
				sb.WriteString("(")
				for k, item := range list {
					if k > 0 {
						sb.WriteString(", ")
					}
					sb.WriteString("?")
					args = append(args, item)
				}
				sb.WriteString(")")
			}
		} else {
			sb.WriteString("?")
			args = append(args, value)
		}
		i = j
	}
	return sb.String(), args, nil
}

func asList(value any) ([]any, bool) {
	switch typed := value.(type) {
	case []any:
		return typed, true
	case []int64:
		list := make([]any, len(typed))
		for i, item := range typed {
			list[i] = item
		}
		return list, true
	case []int:
		list := make([]any, len(typed))
		for i, item := range typed {
			list[i] = item
		}
		return list, true
	case []string:
		list := make([]any, len(typed))
		for i, item := range typed {
			list[i] = item
		}
		return list, true
	}
	return nil, false
}
