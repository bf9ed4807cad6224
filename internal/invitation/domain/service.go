package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvitationNotFound = errors.New("invitation_not_found")
	ErrInvitationExpired  = errors.New("invitation_expired")
	ErrInvitationAccepted = errors.New("invitation_already_accepted")
)

type InviteRequest struct {
	Email     string        `json:"email"`
	InvitedBy *snowflake.ID `json:"-"`
}

type Service interface {
	Invite(ctx context.Context, req InviteRequest) (*Invitation, error)
	FindByToken(ctx context.Context, token string) (*Invitation, error)
	// Accept marks the invitation used inside the caller's transaction so
	// registration and acceptance commit atomically.
	Accept(ctx context.Context, tx *gorm.DB, token string) (*Invitation, error)
	// ExpireStale transitions overdue PENDING invitations to EXPIRED and
	// returns how many rows changed.
	ExpireStale(ctx context.Context) (int64, error)
}
