package option

import "gorm.io/gorm"

// QueryOption customizes a query statement before execution.
type QueryOption func(*gorm.DB) *gorm.DB

func WithLimit(limit int) QueryOption {
	return func(stmt *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return stmt
		}
		return stmt.Limit(limit)
	}
}

func WithOffset(offset int) QueryOption {
	return func(stmt *gorm.DB) *gorm.DB {
		if offset <= 0 {
			return stmt
		}
		return stmt.Offset(offset)
	}
}

func WithOrder(order string) QueryOption {
	return func(stmt *gorm.DB) *gorm.DB {
		if order == "" {
			return stmt
		}
		return stmt.Order(order)
	}
}

func WithPreload(association string) QueryOption {
	return func(stmt *gorm.DB) *gorm.DB {
		return stmt.Preload(association)
	}
}
