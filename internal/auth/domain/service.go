package domain

import (
	"context"
	"errors"
	"time"

	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	userdomain "github.com/jijenga/referral/internal/user/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password too short")
)

type RegisterRequest struct {
	InviteToken string `json:"invite_token"`
	PhoneNumber string `json:"phone_number"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
}

type RegisterResult struct {
	User *userdomain.User         `json:"user"`
	Link *linkdomain.ReferralLink `json:"referral_link,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal Principal `json:"principal"`
}

type Service interface {
	// RegisterParticipant consumes a pending invitation, creates the
	// participant account and allocates their referral link. The email is
	// taken from the invitation, never from the request.
	RegisterParticipant(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	LoginParticipant(ctx context.Context, req LoginRequest) (*LoginResult, error)
	LoginAdmin(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// Authenticate validates a bearer token and returns its principal.
	Authenticate(ctx context.Context, rawToken string) (*Principal, error)
}
