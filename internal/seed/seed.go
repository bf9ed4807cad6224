package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/auth/password"
	userdomain "github.com/jijenga/referral/internal/user/domain"
	"gorm.io/gorm"
)

// EnsureDefaultAdmin creates the bootstrap finance admin when no admin
// account exists yet. An empty password disables seeding so production
// never ships a known credential.
func EnsureDefaultAdmin(db *gorm.DB, email string, plainPassword string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plainPassword == "" {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var admin userdomain.AdminUser
		err := tx.WithContext(ctx).
			Where("email = ?", email).
			First(&admin).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := password.Hash(plainPassword)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		admin = userdomain.AdminUser{
			ID:           node.Generate(),
			Email:        email,
			PasswordHash: hashed,
			Role:         userdomain.RoleFinance,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&admin).Error
	})
}
