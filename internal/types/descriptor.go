package types

import (
	"sort"

	"github.com/driftboard/contentdb/internal/cerrors"
)

// WriteRule decides where a storage field's value comes from during a write.
type WriteRule int

const (
	// RuleUser trusts the caller's value verbatim.
	RuleUser WriteRule = iota
	// RuleAutoDate forces the current time regardless of input.
	RuleAutoDate
	// RuleAutoUserID forces the acting requester's id.
	RuleAutoUserID
	// RuleIncrement adds one to the previously stored integer value.
	RuleIncrement
	// RulePreserve ignores the incoming value: zero on create, the stored
	// value on update and delete.
	RulePreserve
)

// FieldRule pairs the insert-time and update-time rules for one field.
type FieldRule struct {
	OnInsert WriteRule
	OnUpdate WriteRule
}

// FieldInfo describes one queryable field of a kind.
type FieldInfo struct {
	// Queryable fields may appear in a request's field list.
	Queryable bool
	// Searchable fields may appear in a query's WHERE clause.
	Searchable bool
	// Computed fields are produced by a remap fragment rather than a
	// column; they may only be searched when also selected.
	Computed bool
	// Expr is the descriptor-level select expression; the query builder's
	// own remap table takes precedence, the bare column name is the final
	// fallback.
	Expr string
	Rule FieldRule
}

// TypeDescriptor is the immutable per-kind metadata both the query compiler
// and the write pipeline consume. Built once at startup, read-only after.
type TypeDescriptor struct {
	Kind  RequestKind
	Table string
	// Fields maps API field name to metadata. Field names equal column names.
	Fields map[string]FieldInfo
	// StaticFilter is an implicit, non-overridable WHERE fragment.
	StaticFilter string
	// PermissionField names the column carrying the permission-bearing
	// content id; empty means the kind has no row-level permissions.
	PermissionField string
	// OwnerField names the column restricted searches pin to the requester.
	OwnerField string
	// SuperOnly kinds are searchable only by super identities.
	SuperOnly bool
	// NewView constructs a zero-value view instance for discovery.
	NewView func() any
}

// QueryableFields returns the kind's queryable field names in sorted order.
func (d TypeDescriptor) QueryableFields() []string {
	fields := make([]string, 0, len(d.Fields))
	for name, info := range d.Fields {
		if info.Queryable {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// SearchableFields returns the kind's searchable field names in sorted order.
func (d TypeDescriptor) SearchableFields() []string {
	fields := make([]string, 0, len(d.Fields))
	for name, info := range d.Fields {
		if info.Searchable {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// Registry resolves kinds to descriptors. Shared freely without locking once
// constructed.
type Registry struct {
	descriptors map[RequestKind]TypeDescriptor
}

const opDescribe = "types.describe"

// Describe resolves a kind to its descriptor.
func (r *Registry) Describe(kind RequestKind) (TypeDescriptor, error) {
	descriptor, ok := r.descriptors[kind]
	if !ok {
		return TypeDescriptor{}, cerrors.Newf(cerrors.CategoryArgument, opDescribe, "unknown type %q", kind)
	}
	return descriptor, nil
}

// Kinds lists every registered kind in sorted order.
func (r *Registry) Kinds() []RequestKind {
	kinds := make([]RequestKind, 0, len(r.descriptors))
	for kind := range r.descriptors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func plain(rule FieldRule) FieldInfo {
	return FieldInfo{Queryable: true, Searchable: true, Rule: rule}
}

func computed() FieldInfo {
	return FieldInfo{Queryable: true, Searchable: true, Computed: true, Rule: FieldRule{RulePreserve, RulePreserve}}
}

var (
	userRule     = FieldRule{RuleUser, RuleUser}
	createStamp  = FieldRule{RuleAutoDate, RulePreserve}
	creatorStamp = FieldRule{RuleAutoUserID, RulePreserve}
	frozen       = FieldRule{RulePreserve, RulePreserve}
	createOnly   = FieldRule{RuleUser, RulePreserve}
)

func contentFields() map[string]FieldInfo {
	return map[string]FieldInfo{
		"id":             plain(frozen),
		"deleted":        plain(frozen),
		"createUserId":   plain(creatorStamp),
		"createDate":     plain(createStamp),
		"name":           plain(userRule),
		"parentId":       plain(userRule),
		"text":           {Queryable: true, Searchable: false, Rule: userRule},
		"contentType":    plain(createOnly),
		"literalType":    plain(userRule),
		"meta":           {Queryable: true, Searchable: false, Rule: userRule},
		"description":    {Queryable: true, Searchable: false, Rule: userRule},
		"hash":           plain(frozen),
		"keyword":        {Queryable: true, Searchable: true, Rule: frozen},
		"commentCount":   computed(),
		"watchCount":     computed(),
		"lastCommentId":  computed(),
		"lastRevisionId": computed(),
	}
}

func contentDescriptor(kind RequestKind, staticFilter string) TypeDescriptor {
	return TypeDescriptor{
		Kind:            kind,
		Table:           Content{}.TableName(),
		Fields:          contentFields(),
		StaticFilter:    staticFilter,
		PermissionField: "id",
		NewView:         func() any { return &ContentView{} },
	}
}

// NewRegistry builds the full descriptor set. The write-rule tables here are
// the statically declared replacement for attribute reflection in the
// original metadata system.
func NewRegistry() *Registry {
	descriptors := map[RequestKind]TypeDescriptor{
		KindContent: contentDescriptor(KindContent, "main.contentType <> 0"),
		KindModule:  contentDescriptor(KindModule, "main.contentType = 2"),
		KindFile:    contentDescriptor(KindFile, "main.contentType = 3"),
		KindMessage: {
			Kind:  KindMessage,
			Table: Message{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":            plain(frozen),
				"contentId":     plain(userRule),
				"createUserId":  plain(creatorStamp),
				"createDate":    plain(createStamp),
				"editUserId":    plain(FieldRule{RulePreserve, RuleAutoUserID}),
				"editDate":      plain(FieldRule{RulePreserve, RuleAutoDate}),
				"text":          {Queryable: true, Searchable: false, Rule: userRule},
				"module":        plain(createOnly),
				"receiveUserId": plain(userRule),
				"deleted":       plain(frozen),
				"edited": {
					Queryable: true, Searchable: true, Computed: true,
					Expr: "(main.editUserId <> 0)",
					Rule: frozen,
				},
			},
			PermissionField: "contentId",
			NewView:         func() any { return &MessageView{} },
		},
		KindUser: {
			Kind:  KindUser,
			Table: User{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":           plain(frozen),
				"createUserId": plain(creatorStamp),
				"username":     plain(userRule),
				"avatar":       plain(userRule),
				"special":      plain(userRule),
				"super":        plain(userRule),
				"type":         plain(createOnly),
				"createDate":   plain(createStamp),
				"deleted":      plain(frozen),
			},
			NewView: func() any { return &UserView{} },
		},
		KindWatch: {
			Kind:  KindWatch,
			Table: ContentWatch{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":            plain(frozen),
				"userId":        plain(creatorStamp),
				"contentId":     plain(createOnly),
				"lastCommentId": plain(userRule),
				"createDate":    plain(createStamp),
				"editDate":      plain(FieldRule{RuleAutoDate, RuleAutoDate}),
			},
			OwnerField: "userId",
			NewView:    func() any { return &WatchView{} },
		},
		KindVote: {
			Kind:  KindVote,
			Table: ContentVote{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":         plain(frozen),
				"userId":     plain(creatorStamp),
				"contentId":  plain(createOnly),
				"vote":       plain(userRule),
				"createDate": plain(createStamp),
			},
			OwnerField: "userId",
			NewView:    func() any { return &VoteView{} },
		},
		KindBan: {
			Kind:  KindBan,
			Table: Ban{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":           plain(frozen),
				"createUserId": plain(creatorStamp),
				"bannedUserId": plain(createOnly),
				"createDate":   plain(createStamp),
				"expireDate":   plain(userRule),
				"message":      {Queryable: true, Searchable: false, Rule: userRule},
				"scope":        plain(userRule),
			},
			NewView: func() any { return &BanView{} },
		},
		KindUserVariable: {
			Kind:  KindUserVariable,
			Table: UserVariable{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":         plain(frozen),
				"userId":     plain(creatorStamp),
				"key":        plain(createOnly),
				"value":      {Queryable: true, Searchable: false, Rule: userRule},
				"createDate": plain(createStamp),
				"editDate":   plain(FieldRule{RulePreserve, RuleAutoDate}),
				"editCount":  plain(FieldRule{RulePreserve, RuleIncrement}),
			},
			OwnerField: "userId",
			NewView:    func() any { return &UserVariableView{} },
		},
		KindAdminLog: {
			Kind:  KindAdminLog,
			Table: AdminLog{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":          plain(frozen),
				"type":        plain(frozen),
				"initiatorId": plain(frozen),
				"targetId":    plain(frozen),
				"createDate":  plain(frozen),
				"text":        {Queryable: true, Searchable: false, Rule: frozen},
			},
			SuperOnly: true,
			NewView:   func() any { return &AdminLogView{} },
		},
		KindActivity: {
			Kind:  KindActivity,
			Table: ContentHistory{}.TableName(),
			Fields: map[string]FieldInfo{
				"id":           plain(frozen),
				"contentId":    plain(frozen),
				"createUserId": plain(frozen),
				"createDate":   plain(frozen),
				"action":       plain(frozen),
			},
			PermissionField: "contentId",
			NewView:         func() any { return &ActivityView{} },
		},
	}

	return &Registry{descriptors: descriptors}
}
