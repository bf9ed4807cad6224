package mpesa

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway is an in-memory Gateway for tests. Scripted outcomes are
// consumed per token; unscripted tokens succeed. It records every request
// so tests can assert the gateway never saw a token twice with different
// amounts.
type FakeGateway struct {
	mu        sync.Mutex
	seq       int
	scripted  map[string][]DisburseResult
	settled   map[string]DisburseResult
	Requests  []DisburseRequest
	QueryErrs map[string]error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		scripted:  make(map[string][]DisburseResult),
		settled:   make(map[string]DisburseResult),
		QueryErrs: make(map[string]error),
	}
}

// Script queues outcomes for a token, consumed in order across Disburse
// and QueryStatus calls.
func (f *FakeGateway) Script(token string, results ...DisburseResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[token] = append(f.scripted[token], results...)
}

func (f *FakeGateway) Disburse(_ context.Context, req DisburseRequest) (DisburseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)

	if result, ok := f.settled[req.IdempotencyToken]; ok {
		return result, nil
	}
	result := f.next(req.IdempotencyToken)
	if result.Outcome != OutcomePending {
		f.settled[req.IdempotencyToken] = result
	}
	return result, nil
}

func (f *FakeGateway) QueryStatus(_ context.Context, token string) (DisburseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.QueryErrs[token]; ok {
		return DisburseResult{}, err
	}
	if result, ok := f.settled[token]; ok {
		return result, nil
	}
	if len(f.scripted[token]) == 0 {
		return DisburseResult{}, ErrUnknownToken
	}
	result := f.next(token)
	if result.Outcome != OutcomePending {
		f.settled[token] = result
	}
	return result, nil
}

func (f *FakeGateway) next(token string) DisburseResult {
	if queue := f.scripted[token]; len(queue) > 0 {
		result := queue[0]
		f.scripted[token] = queue[1:]
		return result
	}
	f.seq++
	return DisburseResult{
		Outcome:       OutcomeSuccess,
		TransactionID: fmt.Sprintf("QFAKE%06d", f.seq),
	}
}

var _ Gateway = (*FakeGateway)(nil)
