package search

import "sort"

// AboutKind describes one searchable kind for external tooling.
type AboutKind struct {
	Queryable  []string `json:"queryable"`
	Searchable []string `json:"searchable"`
	Default    any      `json:"default"`
}

// AboutMacro describes one macro's argument signature and legal kinds.
type AboutMacro struct {
	Signature string   `json:"signature"`
	Kinds     []string `json:"kinds"`
}

// AboutSearch is the discovery document for the query DSL.
type AboutSearch struct {
	Kinds    map[string]AboutKind  `json:"kinds"`
	Macros   map[string]AboutMacro `json:"macros"`
	MaxLimit int                   `json:"maxLimit"`
}

// About introspects every registered kind and macro. The DSL is meant to be
// self-describing so callers can learn shapes without schema access.
func (b *Builder) About() AboutSearch {
	about := AboutSearch{
		Kinds:    map[string]AboutKind{},
		Macros:   map[string]AboutMacro{},
		MaxLimit: b.maxLimit,
	}

	for _, kind := range b.registry.Kinds() {
		descriptor, err := b.registry.Describe(kind)
		if err != nil {
			continue
		}
		var instance any
		if descriptor.NewView != nil {
			instance = descriptor.NewView()
		}
		about.Kinds[string(kind)] = AboutKind{
			Queryable:  descriptor.QueryableFields(),
			Searchable: descriptor.SearchableFields(),
			Default:    instance,
		}
	}

	for name, macro := range b.macros {
		kinds := make([]string, 0, len(macro.Kinds))
		for _, kind := range macro.Kinds {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		about.Macros[name] = AboutMacro{Signature: macro.Signature(), Kinds: kinds}
	}

	return about
}
