package writer

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/types"
	"gorm.io/gorm"
)

const (
	defaultHashLength  = 8
	defaultHashRetries = 50
)

// hashAlphabet excludes look-alike characters so hashes survive being read
// aloud or retyped.
const hashAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// hashGenerator hands out unique short public identifiers for content rows.
// A single mutex spans candidate generation, the collision check, and the
// insert that claims the hash, so two concurrent creates can never both pass
// the uniqueness check with the same candidate.
type hashGenerator struct {
	mu      sync.Mutex
	db      *gorm.DB
	length  int
	retries int
}

func newHashGenerator(db *gorm.DB, length, retries int) *hashGenerator {
	if length <= 0 {
		length = defaultHashLength
	}
	if retries <= 0 {
		retries = defaultHashRetries
	}
	return &hashGenerator{db: db, length: length, retries: retries}
}

// withNewHash picks a hash that no content row uses and runs claim with it
// while still holding the generator lock. claim must persist the hash before
// returning or the slot is given away again.
func (g *hashGenerator) withNewHash(ctx context.Context, claim func(hash string) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < g.retries; attempt++ {
		candidate, err := randomHash(g.length)
		if err != nil {
			return cerrors.Wrap(cerrors.CategoryInfrastructure, opWrite, "hash generation failed", err)
		}
		var count int64
		err = g.db.WithContext(ctx).
			Model(&types.Content{}).
			Where("hash = ?", candidate).
			Count(&count).Error
		if err != nil {
			return cerrors.Wrap(cerrors.CategoryInfrastructure, opWrite, "hash collision check failed", err)
		}
		if count > 0 {
			continue
		}
		return claim(candidate)
	}
	return cerrors.Newf(cerrors.CategoryInfrastructure, opWrite, "no unique hash found after %d attempts", g.retries)
}

func randomHash(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = hashAlphabet[int(b)%len(hashAlphabet)]
	}
	return string(out), nil
}
