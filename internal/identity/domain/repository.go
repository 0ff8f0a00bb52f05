package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, profile *Profile) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Profile, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Profile, error)
	List(ctx context.Context, db *gorm.DB, filter ListProfileFilter, page pagination.Pagination) ([]*Profile, error)
	Update(ctx context.Context, db *gorm.DB, profile *Profile) error
}
