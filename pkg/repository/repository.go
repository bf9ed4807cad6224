package repository

import (
	"context"

	"github.com/jijenga/referral/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic store for simple CRUD access. Feature packages
// with settlement-critical queries keep their own raw SQL repositories.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID int64, resource any) error
	Delete(ctx context.Context, resourceID int64) error
	Count(ctx context.Context, query *T) (int64, error)
}
