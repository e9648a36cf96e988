package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "unexpected eof", err: errors.New("unexpected EOF"), want: true},
		{name: "rate limited", err: errors.New("status code: 429, too many requests"), want: true},
		{name: "upstream overload", err: errors.New("status code: 503 service unavailable"), want: true},
		{name: "wrapped transient", err: fmt.Errorf("stream recv failed: %w", errors.New("i/o timeout")), want: true},
		{name: "cancellation", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "bad request", err: errors.New("status code: 400, model not supported"), want: false},
		{name: "auth failure", err: errors.New("status code: 401, incorrect api key"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 4 * time.Second

	assert.Equal(t, base, exponentialBackoff(0, base, cap))
	assert.Equal(t, time.Second, exponentialBackoff(1, base, cap))
	assert.Equal(t, 2*time.Second, exponentialBackoff(2, base, cap))
	assert.Equal(t, 4*time.Second, exponentialBackoff(3, base, cap))
	assert.Equal(t, cap, exponentialBackoff(10, base, cap))
}
