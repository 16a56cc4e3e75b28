package replication_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asajjanshetty/libsql/replication"
)

// retryer succeeds at a certain trial.
type retryer struct {
	Count     int
	SucceedAt int
}

func (r *retryer) try(_ context.Context) error {
	r.Count++
	if r.Count == r.SucceedAt {
		return nil
	}
	return replication.ErrRetryable
}

func TestRetryer_Run(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		retryFunc func(ctx context.Context) error
		context   context.Context
		wantErr   bool
	}{
		{
			name:      "success",
			retryFunc: func(ctx context.Context) error { return nil },
			context:   context.Background(),
			wantErr:   false,
		},
		{
			name:      "not retryable error",
			retryFunc: func(ctx context.Context) error { return errors.New("some error") },
			context:   context.Background(),
			wantErr:   true,
		},
		{
			name: "succeed at the 3rd try",
			retryFunc: func() func(ctx context.Context) error {
				r := retryer{SucceedAt: 3}
				return r.try
			}(),
			context: context.Background(),
			wantErr: false,
		},
		{
			name:      "canceled context stops retrying",
			retryFunc: func(ctx context.Context) error { return replication.ErrRetryable },
			context:   canceled,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := replication.NewRetryer(tt.retryFunc, 10*time.Millisecond, 2)
			err := r.Run(tt.context)
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
