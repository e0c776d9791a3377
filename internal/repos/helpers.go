package repos

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate takes a row lock where the dialect supports it. The sqlite
// test databases serialise writers anyway.
func lockForUpdate(t *gorm.DB) *gorm.DB {
	if t.Dialector.Name() == "postgres" {
		return t.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t
}
