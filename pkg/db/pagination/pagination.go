package pagination

import "gorm.io/gorm"

// Page is an offset/limit window. A zero Limit means unbounded.
type Page struct {
	Limit  int
	Offset int
}

// Scope applies the window to a query.
func (p Page) Scope(tx *gorm.DB) *gorm.DB {
	if p.Offset > 0 {
		tx = tx.Offset(p.Offset)
	}
	if p.Limit > 0 {
		tx = tx.Limit(p.Limit)
	}
	return tx
}
