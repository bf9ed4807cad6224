package mpesa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp b2cResponse
		want DisburseResult
	}{
		{
			name: "result code zero settles",
			resp: b2cResponse{ResultCode: "0", TransactionID: "QK12345XYZ"},
			want: DisburseResult{Outcome: OutcomeSuccess, TransactionID: "QK12345XYZ"},
		},
		{
			name: "response code used when result code absent",
			resp: b2cResponse{ResponseCode: "0", TransactionID: "QK12345XYZ"},
			want: DisburseResult{Outcome: OutcomeSuccess, TransactionID: "QK12345XYZ"},
		},
		{
			name: "no code means still processing",
			resp: b2cResponse{},
			want: DisburseResult{Outcome: OutcomePending},
		},
		{
			name: "nonzero code fails with result description",
			resp: b2cResponse{ResultCode: "2001", ResultDesc: "The initiator information is invalid."},
			want: DisburseResult{Outcome: OutcomeFailed, FailureReason: "The initiator information is invalid."},
		},
		{
			name: "failure reason falls back to response description",
			resp: b2cResponse{ResponseCode: "1", ResponseDescription: "Insufficient balance"},
			want: DisburseResult{Outcome: OutcomeFailed, FailureReason: "Insufficient balance"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.resp))
		})
	}
}
