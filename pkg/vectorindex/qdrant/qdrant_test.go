package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/smartinsight/knowledge-core/internal/resilience"
	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

// testIndex returns an Index with a fast retry policy and no client; call
// never touches the connection.
func testIndex(maxRetries int) *Index {
	return &Index{
		retry: resilience.RetryConfig{
			Name:         "qdrant",
			MaxRetries:   maxRetries,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
		known: map[string]bool{},
	}
}

func TestCallRetryPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not found is not retried", func(t *testing.T) {
		t.Parallel()
		x := testIndex(2)
		attempts := 0
		err := x.call(ctx, func() error {
			attempts++
			return status.Error(codes.NotFound, "no such collection")
		})
		if attempts != 1 {
			t.Fatalf("attempts = %d, want 1", attempts)
		}
		if !errors.Is(err, vectorindex.ErrCollectionNotFound) {
			t.Fatalf("expected ErrCollectionNotFound, got %v", err)
		}
	})

	t.Run("already exists is not retried", func(t *testing.T) {
		t.Parallel()
		x := testIndex(2)
		attempts := 0
		err := x.call(ctx, func() error {
			attempts++
			return status.Error(codes.AlreadyExists, "collection exists")
		})
		if attempts != 1 {
			t.Fatalf("attempts = %d, want 1", attempts)
		}
		if !errors.Is(err, vectorindex.ErrCollectionExists) {
			t.Fatalf("expected ErrCollectionExists, got %v", err)
		}
	})

	t.Run("invalid argument is not retried", func(t *testing.T) {
		t.Parallel()
		x := testIndex(2)
		attempts := 0
		err := x.call(ctx, func() error {
			attempts++
			return status.Error(codes.InvalidArgument, "bad vector size")
		})
		if attempts != 1 {
			t.Fatalf("attempts = %d, want 1", attempts)
		}
		if !errors.Is(err, vectorindex.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unavailable is retried to success", func(t *testing.T) {
		t.Parallel()
		x := testIndex(3)
		attempts := 0
		err := x.call(ctx, func() error {
			attempts++
			if attempts < 3 {
				return status.Error(codes.Unavailable, "connection refused")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if attempts != 3 {
			t.Fatalf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("unavailable keeps sentinel after exhaustion", func(t *testing.T) {
		t.Parallel()
		x := testIndex(1)
		attempts := 0
		err := x.call(ctx, func() error {
			attempts++
			return status.Error(codes.Unavailable, "connection refused")
		})
		if attempts != 2 {
			t.Fatalf("attempts = %d, want 2", attempts)
		}
		if !errors.Is(err, vectorindex.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code codes.Code
		want error
	}{
		{"not found", codes.NotFound, vectorindex.ErrCollectionNotFound},
		{"already exists", codes.AlreadyExists, vectorindex.ErrCollectionExists},
		{"invalid argument", codes.InvalidArgument, vectorindex.ErrInvalidArgument},
		{"unavailable", codes.Unavailable, vectorindex.ErrUnavailable},
		{"deadline exceeded", codes.DeadlineExceeded, vectorindex.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := translate(status.Error(tc.code, "backend says no"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("translate(%v) = %v, want %v", tc.code, err, tc.want)
			}
		})
	}

	t.Run("unknown codes pass through", func(t *testing.T) {
		t.Parallel()
		orig := status.Error(codes.Internal, "boom")
		if got := translate(orig); !errors.Is(got, orig) {
			t.Fatalf("translate altered unknown code: %v", got)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		if got := translate(nil); got != nil {
			t.Fatalf("translate(nil) = %v", got)
		}
	})
}
