package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers "may this actor perform this action on this object".
// Actors are "admin:<id>" for signed-in admins and "system" for scheduler
// jobs.
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}
