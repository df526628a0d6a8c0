package search

import (
	"testing"

	"github.com/driftboard/contentdb/internal/types"
)

func TestAboutDescribesEveryKindAndMacro(t *testing.T) {
	builder := NewBuilder(types.NewRegistry(), 250)
	about := builder.About()

	if about.MaxLimit != 250 {
		t.Fatalf("unexpected max limit: %d", about.MaxLimit)
	}
	for _, kind := range []string{"content", "module", "file", "message", "user", "watch", "vote", "ban", "uservariable", "adminlog", "activity"} {
		described, ok := about.Kinds[kind]
		if !ok {
			t.Fatalf("kind %q missing from discovery document", kind)
		}
		if len(described.Queryable) == 0 {
			t.Fatalf("kind %q reports no queryable fields", kind)
		}
	}

	limit, ok := about.Macros["permissionlimit"]
	if !ok {
		t.Fatalf("permissionlimit missing from discovery document")
	}
	if limit.Signature != "permissionlimit(value, field, literal)" {
		t.Fatalf("unexpected signature: %q", limit.Signature)
	}
	if len(limit.Kinds) == 0 {
		t.Fatalf("permissionlimit reports no legal kinds")
	}
}

func TestCastResults(t *testing.T) {
	rows := []map[string]any{
		{"id": int64(3), "name": "alpha"},
		{"id": int64(4), "name": "beta"},
	}
	views, err := CastResults[types.ContentView](rows)
	if err != nil {
		t.Fatalf("cast failed: %v", err)
	}
	if len(views) != 2 || views[0].ID != 3 || views[1].Name != "beta" {
		t.Fatalf("cast drifted: %+v", views)
	}

	empty, err := CastResults[types.ContentView](nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty input must yield an empty list: %v %v", empty, err)
	}
}
