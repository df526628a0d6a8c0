package search

import (
	"fmt"
	"strings"
	"testing"
)

func passthroughConfig() ParserConfig {
	return ParserConfig{
		Field: func(field string) (string, error) { return "main." + field, nil },
		Value: func(name string) (string, error) { return "@" + name, nil },
		Macro: func(name string, args []string) (string, error) {
			return fmt.Sprintf("MACRO_%s(%s)", name, strings.Join(args, ",")), nil
		},
	}
}

func TestParseQueryEmptyIsEmptyFragment(t *testing.T) {
	for _, query := range []string{"", "   ", "\t\n"} {
		fragment, err := ParseQuery(query, passthroughConfig())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", query, err)
		}
		if fragment != "" {
			t.Fatalf("expected empty fragment for %q, got %q", query, fragment)
		}
	}
}

func TestParseQuerySimpleFilter(t *testing.T) {
	fragment, err := ParseQuery("id = @ids", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fragment != "main.id = @ids" {
		t.Fatalf("unexpected fragment %q", fragment)
	}
}

func TestParseQueryConnectivesAndGrouping(t *testing.T) {
	fragment, err := ParseQuery("(id in @ids or parentId = @parent) and name like @pattern", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "(main.id IN @ids OR main.parentId = @parent) AND main.name LIKE @pattern"
	if fragment != expected {
		t.Fatalf("expected %q, got %q", expected, fragment)
	}
}

func TestParseQueryNotOperators(t *testing.T) {
	fragment, err := ParseQuery("id not in @ids and name not like @pattern", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "main.id NOT IN @ids AND main.name NOT LIKE @pattern"
	if fragment != expected {
		t.Fatalf("expected %q, got %q", expected, fragment)
	}
}

func TestParseQueryComparisonOperators(t *testing.T) {
	fragment, err := ParseQuery("id >= @low and id <> @skip", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "main.id >= @low AND main.id <> @skip"
	if fragment != expected {
		t.Fatalf("expected %q, got %q", expected, fragment)
	}
}

func TestParseQueryKeywordPrefixedIdentifiers(t *testing.T) {
	// Fields that merely start with a connective word lex as identifiers.
	fragment, err := ParseQuery("android = @value or ordinal < @max", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "main.android = @value OR main.ordinal < @max"
	if fragment != expected {
		t.Fatalf("expected %q, got %q", expected, fragment)
	}
}

func TestParseQueryMacros(t *testing.T) {
	fragment, err := ParseQuery("!null(parentId) and !permissionlimit(@ids, id, R)", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "MACRO_null(parentId) AND MACRO_permissionlimit(@ids,id,R)"
	if fragment != expected {
		t.Fatalf("expected %q, got %q", expected, fragment)
	}
}

func TestParseQueryRejectsLiterals(t *testing.T) {
	for _, query := range []string{
		"id = 5",
		`name = "admin"`,
		"name = 'x' or id = @ids",
		"id = @ids; drop table contents",
	} {
		if _, err := ParseQuery(query, passthroughConfig()); err == nil {
			t.Fatalf("expected literal query %q to be rejected", query)
		}
	}
}

func TestParseQueryRejectsMalformedInput(t *testing.T) {
	for _, query := range []string{
		"id =",
		"id @ids",
		"(id = @ids",
		"id = @ids extra",
		"and id = @ids",
		"!macro",
		"id not near @ids",
		"@",
	} {
		if _, err := ParseQuery(query, passthroughConfig()); err == nil {
			t.Fatalf("expected malformed query %q to be rejected", query)
		}
	}
}

func TestParseQueryWrapsConverterPanics(t *testing.T) {
	cfg := passthroughConfig()
	cfg.Field = func(field string) (string, error) { panic("converter exploded") }
	if _, err := ParseQuery("id = @ids", cfg); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
}

func TestParseQueryValueChainingToken(t *testing.T) {
	fragment, err := ParseQuery("contentId in @pages.id", passthroughConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fragment != "main.contentId IN @pages.id" {
		t.Fatalf("unexpected fragment %q", fragment)
	}
}
