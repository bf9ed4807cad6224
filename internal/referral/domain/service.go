package domain

import (
	"context"
	"errors"
)

type EventKind string

const (
	EventSignup     EventKind = "SIGNUP"
	EventConversion EventKind = "CONVERSION"
)

// IngestOutcome distinguishes a first application from a deduplicated
// redelivery. Rejections travel as errors.
type IngestOutcome string

const (
	OutcomeApplied   IngestOutcome = "APPLIED"
	OutcomeDuplicate IngestOutcome = "DUPLICATE"
)

var (
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrReferralNotFound  = errors.New("referral_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
)

type IngestRequest struct {
	Kind               EventKind `json:"kind"`
	ReferralCode       string    `json:"referral_code"`
	ExternalReferredID string    `json:"external_referred_id"`
	IdempotencyKey     string    `json:"idempotency_key"`
	Payload            []byte    `json:"-"`
}

type Service interface {
	// Ingest applies an external signup/conversion notification exactly
	// once. Redeliveries of a recorded idempotency key return
	// OutcomeDuplicate with no state change.
	Ingest(ctx context.Context, req IngestRequest) (IngestOutcome, error)
	// Click bumps the link counter and materializes the first PENDING
	// referral for the link. Returns the link owner's target URL handling
	// to the caller.
	Click(ctx context.Context, code string) error
	FindByID(ctx context.Context, id int64) (*Referral, error)
}
