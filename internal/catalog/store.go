package catalog

import (
	"github.com/federata/federata/pkg/database"
	"github.com/federata/federata/pkg/logger"
)

// Store is the read/write model of the catalog: members, groups, logical
// schemas, mappings, watermarks, extractions and obligations
type Store struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewStore creates a new catalog store
func NewStore(db *database.PostgreSQL, logger *logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}
