package mpesa

import (
	"context"
	"errors"
)

// DisburseOutcome is the gateway's verdict on a single disbursement
// attempt. OutcomePending means the gateway accepted the request but has
// not settled it; the caller must reconcile later via QueryStatus.
type DisburseOutcome string

const (
	OutcomeSuccess DisburseOutcome = "SUCCESS"
	OutcomeFailed  DisburseOutcome = "FAILED"
	OutcomePending DisburseOutcome = "PENDING"
)

var (
	ErrGatewayUnavailable = errors.New("mpesa_gateway_unavailable")
	ErrUnknownToken       = errors.New("mpesa_unknown_token")
)

type DisburseResult struct {
	Outcome       DisburseOutcome
	TransactionID string
	FailureReason string
}

type DisburseRequest struct {
	IdempotencyToken string
	PhoneNumber      string
	AmountCents      int64
	Currency         string
	Remarks          string
}

// Gateway is a B2C payout provider. Disburse is retry-safe: the provider
// deduplicates on IdempotencyToken, so re-sending a request after an
// ambiguous outcome never pays twice.
type Gateway interface {
	Disburse(ctx context.Context, req DisburseRequest) (DisburseResult, error)
	// QueryStatus looks up the settled outcome of a previously submitted
	// disbursement by its idempotency token.
	QueryStatus(ctx context.Context, idempotencyToken string) (DisburseResult, error)
}
