package search

import (
	"fmt"
	"strings"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/types"
)

// ArgKind constrains one macro argument position.
type ArgKind int

const (
	// ArgField accepts a bare searchable field name of the target kind.
	ArgField ArgKind = iota
	// ArgValue accepts an @name value reference.
	ArgValue
	// ArgLiteral accepts a compile-time literal from a macro-defined allow list.
	ArgLiteral
)

func (k ArgKind) String() string {
	switch k {
	case ArgField:
		return "field"
	case ArgValue:
		return "value"
	default:
		return "literal"
	}
}

// macroContext exposes the compiling request's converters to macro bodies.
type macroContext struct {
	kind         types.RequestKind
	convertField FieldConverter
	convertValue ValueConverter
}

// Macro is one statically registered query macro: a declared argument
// signature, the kinds it is legal against, and a pure SQL-fragment builder.
type Macro struct {
	Name  string
	Args  []ArgKind
	Kinds []types.RequestKind
	Build func(mc *macroContext, args []string) (string, error)
}

// Signature renders the macro's argument shape for the discovery document.
func (m Macro) Signature() string {
	parts := make([]string, len(m.Args))
	for i, kind := range m.Args {
		parts[i] = kind.String()
	}
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(parts, ", "))
}

const opMacro = "search.macro"

func macroErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryArgument, opMacro, format, args...)
}

var contentKinds = []types.RequestKind{types.KindContent, types.KindModule, types.KindFile}

func allKinds() []types.RequestKind {
	return []types.RequestKind{
		types.KindContent, types.KindModule, types.KindFile, types.KindMessage,
		types.KindUser, types.KindWatch, types.KindVote, types.KindBan,
		types.KindUserVariable, types.KindAdminLog, types.KindActivity,
	}
}

func newMacroRegistry() map[string]Macro {
	macros := []Macro{
		{
			Name:  "keywordlike",
			Args:  []ArgKind{ArgValue},
			Kinds: contentKinds,
			Build: func(mc *macroContext, args []string) (string, error) {
				value, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("main.id IN (SELECT contentId FROM content_keywords WHERE keyword LIKE %s)", value), nil
			},
		},
		{
			Name:  "valuelike",
			Args:  []ArgKind{ArgValue, ArgValue},
			Kinds: contentKinds,
			Build: func(mc *macroContext, args []string) (string, error) {
				key, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				value, err := mc.convertValue(strings.TrimPrefix(args[1], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf(`main.id IN (SELECT contentId FROM content_values WHERE "key" LIKE %s AND "value" LIKE %s)`, key, value), nil
			},
		},
		{
			Name:  "valuekeynotlike",
			Args:  []ArgKind{ArgValue},
			Kinds: contentKinds,
			Build: func(mc *macroContext, args []string) (string, error) {
				key, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf(`main.id NOT IN (SELECT contentId FROM content_values WHERE "key" LIKE %s)`, key), nil
			},
		},
		{
			Name:  "onlyparents",
			Args:  []ArgKind{},
			Kinds: contentKinds,
			Build: func(mc *macroContext, args []string) (string, error) {
				return "main.id IN (SELECT DISTINCT parentId FROM contents WHERE parentId <> 0)", nil
			},
		},
		{
			Name:  "basiccomments",
			Args:  []ArgKind{},
			Kinds: []types.RequestKind{types.KindMessage},
			Build: func(mc *macroContext, args []string) (string, error) {
				return "(main.module = '' AND main.deleted = 0)", nil
			},
		},
		{
			Name:  "null",
			Args:  []ArgKind{ArgField},
			Kinds: allKinds(),
			Build: func(mc *macroContext, args []string) (string, error) {
				field, err := mc.convertField(args[0])
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s IS NULL", field), nil
			},
		},
		{
			Name:  "notnull",
			Args:  []ArgKind{ArgField},
			Kinds: allKinds(),
			Build: func(mc *macroContext, args []string) (string, error) {
				field, err := mc.convertField(args[0])
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s IS NOT NULL", field), nil
			},
		},
		{
			Name: "permissionlimit",
			Args: []ArgKind{ArgValue, ArgField, ArgLiteral},
			Kinds: []types.RequestKind{
				types.KindContent, types.KindModule, types.KindFile,
				types.KindMessage, types.KindActivity,
			},
			Build: func(mc *macroContext, args []string) (string, error) {
				ids, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				field, err := mc.convertField(args[1])
				if err != nil {
					return "", err
				}
				column := permissionColumn(args[2])
				if column == "" {
					return "", macroErr("permissionlimit action must be one of C, R, U, D; got %q", args[2])
				}
				return fmt.Sprintf(`%s IN (SELECT contentId FROM content_permissions WHERE userId IN %s AND %q = 1)`, field, ids, column), nil
			},
		},
		{
			Name:  "receiveuserlimit",
			Args:  []ArgKind{ArgValue},
			Kinds: []types.RequestKind{types.KindMessage},
			Build: func(mc *macroContext, args []string) (string, error) {
				ids, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("(main.receiveUserId = 0 OR main.receiveUserId IN %s OR main.createUserId IN %s)", ids, ids), nil
			},
		},
		{
			Name:  "usertype",
			Args:  []ArgKind{ArgLiteral},
			Kinds: []types.RequestKind{types.KindUser},
			Build: func(mc *macroContext, args []string) (string, error) {
				switch strings.ToLower(args[0]) {
				case "user":
					return fmt.Sprintf("main.type = %d", types.UserTypeUser), nil
				case "group":
					return fmt.Sprintf("main.type = %d", types.UserTypeGroup), nil
				}
				return "", macroErr("usertype literal must be user or group; got %q", args[0])
			},
		},
		{
			Name:  "ingroup",
			Args:  []ArgKind{ArgValue},
			Kinds: []types.RequestKind{types.KindUser},
			Build: func(mc *macroContext, args []string) (string, error) {
				groups, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("main.id IN (SELECT userId FROM user_relations WHERE type = %d AND relatedId IN %s)", types.RelationInGroup, groups), nil
			},
		},
		{
			Name:  "activebans",
			Args:  []ArgKind{ArgValue},
			Kinds: []types.RequestKind{types.KindBan},
			Build: func(mc *macroContext, args []string) (string, error) {
				now, err := mc.convertValue(strings.TrimPrefix(args[0], "@"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("main.expireDate > %s", now), nil
			},
		},
	}

	registry := make(map[string]Macro, len(macros))
	for _, macro := range macros {
		registry[macro.Name] = macro
	}
	return registry
}

func permissionColumn(literal string) string {
	action, ok := permission.ActionFromLetter(literal)
	if !ok {
		return ""
	}
	return action.Column()
}
