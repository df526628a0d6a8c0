package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/types"
)

// SearchRequest is one named query in a batch.
type SearchRequest struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Fields string `json:"fields"`
	Query  string `json:"query"`
	Order  string `json:"order"`
	Limit  int    `json:"limit"`
	Skip   int    `json:"skip"`
}

// SearchRequestBatch is an ordered request list sharing one value dictionary.
type SearchRequestBatch struct {
	Values   map[string]any  `json:"values"`
	Requests []SearchRequest `json:"requests"`
}

// CompiledRequest is the derived, executable form of one request.
type CompiledRequest struct {
	Request    SearchRequest
	Kind       types.RequestKind
	Descriptor types.TypeDescriptor
	Fields     []string
	SQL        string
	Params     map[string]any
}

// DefaultMaxLimit caps user-supplied limits when the builder is not
// configured otherwise.
const DefaultMaxLimit = 1000

const (
	opCompile = "search.compile"

	literalOpen  = "{{"
	literalClose = "}}"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type remapKey struct {
	kind  types.RequestKind
	field string
}

// fieldRemap carries hand-written SQL for one (kind, field) pair. An empty
// selectExpr means the field is queryable but never itself selected.
type fieldRemap struct {
	selectExpr string
	whereExpr  string
}

// Builder compiles search requests into parameterized SQL.
type Builder struct {
	registry *types.Registry
	macros   map[string]Macro
	remaps   map[remapKey]fieldRemap
	maxLimit int
}

// NewBuilder constructs a Builder over the descriptor registry. maxLimit <= 0
// selects DefaultMaxLimit.
func NewBuilder(registry *types.Registry, maxLimit int) *Builder {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Builder{
		registry: registry,
		macros:   newMacroRegistry(),
		remaps:   newFieldRemaps(),
		maxLimit: maxLimit,
	}
}

func newFieldRemaps() map[remapKey]fieldRemap {
	remaps := map[remapKey]fieldRemap{}
	for _, kind := range contentKinds {
		remaps[remapKey{kind, "commentCount"}] = fieldRemap{
			selectExpr: "(SELECT COUNT(*) FROM messages WHERE contentId = main.id AND deleted = 0)",
		}
		remaps[remapKey{kind, "watchCount"}] = fieldRemap{
			selectExpr: "(SELECT COUNT(*) FROM content_watches WHERE contentId = main.id)",
		}
		remaps[remapKey{kind, "lastCommentId"}] = fieldRemap{
			selectExpr: "(SELECT COALESCE(MAX(id), 0) FROM messages WHERE contentId = main.id AND deleted = 0)",
		}
		remaps[remapKey{kind, "lastRevisionId"}] = fieldRemap{
			selectExpr: "(SELECT COALESCE(MAX(id), 0) FROM content_history WHERE contentId = main.id)",
		}
		// keyword is WHERE-only: never selected, searched against the
		// concatenated keyword list.
		remaps[remapKey{kind, "keyword"}] = fieldRemap{
			selectExpr: "",
			whereExpr:  "(SELECT GROUP_CONCAT(keyword) FROM content_keywords WHERE contentId = main.id)",
		}
	}
	return remaps
}

func compileErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryArgument, opCompile, format, args...)
}

// Macros exposes the static macro registry for discovery.
func (b *Builder) Macros() map[string]Macro {
	return b.macros
}

// MaxLimit reports the system-wide result cap.
func (b *Builder) MaxLimit() int {
	return b.maxLimit
}

// Compile turns one request plus the shared value dictionary into SQL. prior
// maps already-produced request names to their row sets for chaining; Compile
// never mutates values.
func (b *Builder) Compile(request SearchRequest, values map[string]any, prior map[string][]map[string]any) (*CompiledRequest, error) {
	if !identifierPattern.MatchString(request.Name) {
		return nil, compileErr("request name %q is not a legal identifier", request.Name)
	}
	if _, collides := values[request.Name]; collides {
		return nil, compileErr("request name %q collides with a value key", request.Name)
	}
	if _, collides := prior[request.Name]; collides {
		return nil, compileErr("request name %q collides with an earlier request", request.Name)
	}
	descriptor, err := b.registry.Describe(types.RequestKind(request.Type))
	if err != nil {
		return nil, err
	}

	compiled := &CompiledRequest{
		Request:    request,
		Kind:       descriptor.Kind,
		Descriptor: descriptor,
		Params:     make(map[string]any, len(values)),
	}
	for key, value := range values {
		compiled.Params[key] = value
	}

	fields, err := b.resolveFields(descriptor, request.Fields)
	if err != nil {
		return nil, err
	}
	compiled.Fields = fields

	query, err := b.extractLiterals(request, compiled)
	if err != nil {
		return nil, err
	}

	where, err := b.buildWhere(descriptor, compiled, query, prior)
	if err != nil {
		return nil, err
	}

	orderClause, err := b.buildOrder(descriptor, compiled)
	if err != nil {
		return nil, err
	}

	selects, err := b.buildSelects(descriptor, fields)
	if err != nil {
		return nil, err
	}

	limit := request.Limit
	if limit <= 0 || limit > b.maxLimit {
		limit = b.maxLimit
	}
	skip := request.Skip
	if skip < 0 {
		return nil, compileErr("request %q skip must not be negative", request.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s AS main", strings.Join(selects, ", "), descriptor.Table)
	if where != "" {
		fmt.Fprintf(&sb, " WHERE %s", where)
	}
	if orderClause != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", orderClause)
	}
	fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, skip)

	compiled.SQL = sb.String()
	return compiled, nil
}

// resolveFields expands the field-list mini-syntax against the queryable set.
func (b *Builder) resolveFields(descriptor types.TypeDescriptor, spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return descriptor.QueryableFields(), nil
	}

	if strings.HasPrefix(spec, "~") {
		excluded := map[string]bool{}
		for _, field := range splitFieldList(spec[1:]) {
			if _, ok := descriptor.Fields[field]; !ok || !descriptor.Fields[field].Queryable {
				return nil, compileErr("unknown field %q for type %q", field, descriptor.Kind)
			}
			excluded[field] = true
		}
		fields := []string{}
		for _, field := range descriptor.QueryableFields() {
			if !excluded[field] {
				fields = append(fields, field)
			}
		}
		return fields, nil
	}

	fields := splitFieldList(spec)
	for _, field := range fields {
		info, ok := descriptor.Fields[field]
		if !ok || !info.Queryable {
			return nil, compileErr("unknown field %q for type %q", field, descriptor.Kind)
		}
	}
	return fields, nil
}

func splitFieldList(spec string) []string {
	parts := strings.Split(spec, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}

// extractLiterals pulls {{...}} segments out of the query and registers each
// as an auto-named parameter, so the parser itself only ever sees @name
// tokens. Naming is positional, so recompilation is idempotent.
func (b *Builder) extractLiterals(request SearchRequest, compiled *CompiledRequest) (string, error) {
	query := request.Query
	var sb strings.Builder
	index := 0
	for {
		open := strings.Index(query, literalOpen)
		if open < 0 {
			sb.WriteString(query)
			return sb.String(), nil
		}
		closing := strings.Index(query[open:], literalClose)
		if closing < 0 {
			return "", compileErr("request %q has an unterminated literal escape", request.Name)
		}
		name := fmt.Sprintf("%s_lv_%d", request.Name, index)
		index++
		compiled.Params[name] = query[open+len(literalOpen) : open+closing]
		sb.WriteString(query[:open])
		sb.WriteString("@" + name)
		query = query[open+closing+len(literalClose):]
	}
}

func (b *Builder) buildWhere(descriptor types.TypeDescriptor, compiled *CompiledRequest, query string, prior map[string][]map[string]any) (string, error) {
	selected := map[string]bool{}
	for _, field := range compiled.Fields {
		selected[field] = true
	}

	fieldConv := func(field string) (string, error) {
		return b.convertWhereField(descriptor, selected, field)
	}
	valueConv := func(name string) (string, error) {
		return b.convertValue(compiled, name, prior)
	}
	mc := &macroContext{kind: descriptor.Kind, convertField: fieldConv, convertValue: valueConv}
	macroConv := func(name string, args []string) (string, error) {
		return b.invokeMacro(mc, descriptor.Kind, name, args)
	}

	where, err := ParseQuery(query, ParserConfig{Field: fieldConv, Value: valueConv, Macro: macroConv})
	if err != nil {
		return "", err
	}

	if descriptor.StaticFilter != "" {
		if where == "" {
			return descriptor.StaticFilter, nil
		}
		return fmt.Sprintf("%s AND (%s)", descriptor.StaticFilter, where), nil
	}
	return where, nil
}

func (b *Builder) convertWhereField(descriptor types.TypeDescriptor, selected map[string]bool, field string) (string, error) {
	info, ok := descriptor.Fields[field]
	hasRemap := false
	var remap fieldRemap
	if ok {
		remap, hasRemap = b.remaps[remapKey{descriptor.Kind, field}]
	}
	if !ok || !info.Searchable {
		return "", compileErr("field %q is not searchable for type %q", field, descriptor.Kind)
	}
	if info.Computed {
		// A computed field's expression only exists when selected; allowing
		// it otherwise would reference an alias that is not in scope.
		if !selected[field] {
			return "", compileErr("computed field %q must be selected to be searched", field)
		}
		if hasRemap && remap.whereExpr != "" {
			return remap.whereExpr, nil
		}
		if hasRemap && remap.selectExpr != "" {
			return remap.selectExpr, nil
		}
		if info.Expr != "" {
			return info.Expr, nil
		}
		return "", compileErr("computed field %q has no expression", field)
	}
	if hasRemap && remap.whereExpr != "" {
		return remap.whereExpr, nil
	}
	return fmt.Sprintf("main.%q", field), nil
}

// convertValue resolves @name against the value dictionary, falling back to
// the one-dot chaining form @request.field.
func (b *Builder) convertValue(compiled *CompiledRequest, name string, prior map[string][]map[string]any) (string, error) {
	if _, ok := compiled.Params[name]; ok {
		if strings.Contains(name, ".") {
			return "", compileErr("value key %q must not contain a dot", name)
		}
		return "@" + name, nil
	}

	dots := strings.Count(name, ".")
	if dots == 0 {
		return "", compileErr("value @%s not found", name)
	}
	if dots > 1 {
		return "", compileErr("chained value @%s may only use one dot level", name)
	}

	parts := strings.SplitN(name, ".", 2)
	sourceName, column := parts[0], parts[1]
	rows, ok := prior[sourceName]
	if !ok {
		return "", compileErr("chained value @%s does not reference an earlier request", name)
	}

	derived := fmt.Sprintf("%s_chain_%s_%s", compiled.Request.Name, sourceName, column)
	if _, ok := compiled.Params[derived]; ok {
		return "@" + derived, nil
	}

	list := make([]any, 0, len(rows))
	for _, row := range rows {
		value, ok := row[column]
		if !ok {
			return "", compileErr("request %q did not select field %q", sourceName, column)
		}
		list = append(list, value)
	}
	compiled.Params[derived] = list
	return "@" + derived, nil
}

func (b *Builder) invokeMacro(mc *macroContext, kind types.RequestKind, name string, args []string) (string, error) {
	macro, ok := b.macros[strings.ToLower(name)]
	if !ok {
		return "", macroErr("unknown macro %q", name)
	}

	allowed := false
	for _, candidate := range macro.Kinds {
		if candidate == kind {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", macroErr("macro %q is not legal against type %q", name, kind)
	}

	if len(args) != len(macro.Args) {
		return "", macroErr("macro %q expects %d arguments, got %d", name, len(macro.Args), len(args))
	}
	for i, argKind := range macro.Args {
		isValue := strings.HasPrefix(args[i], "@")
		switch argKind {
		case ArgValue:
			if !isValue {
				return "", macroErr("macro %q argument %d must be a value reference", name, i+1)
			}
		case ArgField, ArgLiteral:
			if isValue {
				return "", macroErr("macro %q argument %d must not be a value reference", name, i+1)
			}
		}
	}

	return macro.Build(mc, args)
}

func (b *Builder) buildOrder(descriptor types.TypeDescriptor, compiled *CompiledRequest) (string, error) {
	order := strings.TrimSpace(compiled.Request.Order)
	if order == "" {
		return "", nil
	}

	direction := "ASC"
	if strings.HasSuffix(order, "_desc") {
		direction = "DESC"
		order = strings.TrimSuffix(order, "_desc")
	}

	info, ok := descriptor.Fields[order]
	if !ok || !info.Queryable {
		return "", compileErr("order field %q is not queryable for type %q", order, descriptor.Kind)
	}
	if remap, remapped := b.remaps[remapKey{descriptor.Kind, order}]; remapped && remap.selectExpr == "" {
		// WHERE-only fields have no column to sort on.
		return "", compileErr("field %q cannot order results for type %q", order, descriptor.Kind)
	}
	if info.Computed {
		selected := false
		for _, field := range compiled.Fields {
			if field == order {
				selected = true
				break
			}
		}
		if !selected {
			return "", compileErr("computed order field %q must be selected", order)
		}
		return fmt.Sprintf("%q %s", order, direction), nil
	}
	return fmt.Sprintf("main.%q %s", order, direction), nil
}

func (b *Builder) buildSelects(descriptor types.TypeDescriptor, fields []string) ([]string, error) {
	selects := make([]string, 0, len(fields))
	for _, field := range fields {
		if remap, ok := b.remaps[remapKey{descriptor.Kind, field}]; ok {
			if remap.selectExpr == "" {
				continue
			}
			selects = append(selects, fmt.Sprintf("%s AS %q", remap.selectExpr, field))
			continue
		}
		if info := descriptor.Fields[field]; info.Expr != "" {
			selects = append(selects, fmt.Sprintf("%s AS %q", info.Expr, field))
			continue
		}
		selects = append(selects, fmt.Sprintf("main.%q", field))
	}
	if len(selects) == 0 {
		return nil, compileErr("field list for type %q resolved to nothing selectable", descriptor.Kind)
	}
	return selects, nil
}
