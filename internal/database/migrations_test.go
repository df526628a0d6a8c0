package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/driftboard/contentdb/internal/types"
)

func testDSN() string {
	return fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	db, err := OpenSQLite(testDSN(), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for _, model := range types.AllRecords() {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("table for %T missing after open", model)
		}
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("migration count failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected both named migrations recorded, got %d", applied)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, err := OpenSQLite(testDSN(), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second application failed: %v", err)
	}
	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("migration count failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("reapplication must not duplicate records, got %d", applied)
	}
}

func TestDedupeContentKeywords(t *testing.T) {
	db, err := OpenSQLite(testDSN(), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rows := []types.ContentKeyword{
		{ContentID: 1, Keyword: "go"},
		{ContentID: 1, Keyword: "go"},
		{ContentID: 1, Keyword: "sql"},
		{ContentID: 2, Keyword: "go"},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	if err := dedupeContentKeywords(db); err != nil {
		t.Fatalf("dedupe failed: %v", err)
	}
	var remaining int64
	if err := db.Model(&types.ContentKeyword{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 rows after dedupe, got %d", remaining)
	}
}
