// Package domain contains core types for participant and admin accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is a program participant. The phone number is the M-Pesa payout
// destination, so it must be unique across the program.
type User struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:text;not null;uniqueIndex" json:"email"`
	PhoneNumber  string       `gorm:"column:phone_number;type:text;not null;uniqueIndex" json:"phone_number"`
	PasswordHash string       `gorm:"column:password_hash;type:text;not null" json:"-"`
	FullName     string       `gorm:"column:full_name;type:text" json:"full_name"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type AdminRole string

const (
	RoleCTO     AdminRole = "CTO"
	RoleCEO     AdminRole = "CEO"
	RoleFinance AdminRole = "FINANCE"
)

func (r AdminRole) Valid() bool {
	switch r {
	case RoleCTO, RoleCEO, RoleFinance:
		return true
	default:
		return false
	}
}

// AdminUser is an operator account with a program role.
type AdminUser struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:text;not null;uniqueIndex" json:"email"`
	PasswordHash string       `gorm:"column:password_hash;type:text;not null" json:"-"`
	Role         AdminRole    `gorm:"type:text;not null" json:"role"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (AdminUser) TableName() string { return "admin_users" }
