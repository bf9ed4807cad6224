package domain

import (
	"github.com/bwmarrin/snowflake"
)

type PrincipalKind string

const (
	KindParticipant PrincipalKind = "participant"
	KindAdmin       PrincipalKind = "admin"
)

// Principal is the authenticated identity carried by a bearer token.
// Role is only set for admins.
type Principal struct {
	ID    snowflake.ID  `json:"id"`
	Email string        `json:"email"`
	Kind  PrincipalKind `json:"kind"`
	Role  string        `json:"role,omitempty"`
}

func (p *Principal) Actor() string {
	if p.Kind == KindAdmin {
		return "admin:" + p.ID.String()
	}
	return "user:" + p.ID.String()
}
