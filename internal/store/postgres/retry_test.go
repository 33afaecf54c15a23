package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
}

func TestWithSerializableRetryRerunsConflicts(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	attempts := 0
	err := s.withSerializableRetry(ctx, func() error {
		attempts++
		if attempts < 3 {
			return serializationFailure()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retry to absorb transient conflicts, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithSerializableRetryGivesUpAfterBound(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	attempts := 0
	err := s.withSerializableRetry(ctx, func() error {
		attempts++
		return serializationFailure()
	})
	if !isSerializationFailure(err) {
		t.Fatalf("expected the final conflict to surface, got %v", err)
	}
	if attempts != serializableRetries {
		t.Fatalf("expected %d attempts, got %d", serializableRetries, attempts)
	}
}

func TestWithSerializableRetryDoesNotRetryOtherErrors(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	boom := fmt.Errorf("disk on fire")
	attempts := 0
	err := s.withSerializableRetry(ctx, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a non-retryable error, got %d", attempts)
	}
}
