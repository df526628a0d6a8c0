package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDedupeContentKeywords = "2026-06-11_dedupe_content_keywords"
	migrationNormalizeBanScopes    = "2026-07-02_normalize_ban_scopes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDedupeContentKeywords, apply: dedupeContentKeywords},
		{name: migrationNormalizeBanScopes, apply: normalizeBanScopes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dedupeContentKeywords removes keyword rows that duplicate an earlier row
// for the same content; the write path now rewrites the whole set.
func dedupeContentKeywords(db *gorm.DB) error {
	return db.Exec(`DELETE FROM content_keywords WHERE id NOT IN (
		SELECT MIN(id) FROM content_keywords GROUP BY contentId, keyword
	);`).Error
}

// normalizeBanScopes folds legacy zero-scope bans into the public class so
// the scope bitmask check always has a bit to match.
func normalizeBanScopes(db *gorm.DB) error {
	return db.Exec(`UPDATE bans SET scope = 1 WHERE scope = 0;`).Error
}
