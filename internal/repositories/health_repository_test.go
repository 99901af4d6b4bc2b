package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/productshop/api/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(5 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			Name:  "redis",
			Check: func(context.Context) error { return nil },
		},
	}

	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(checks,
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			t.Fatalf("expected check %s to be ok, got %s", name, check.Status)
		}
		if !check.CheckedAt.Equal(now) {
			t.Fatalf("expected check %s checkedAt %s, got %s", name, now, check.CheckedAt)
		}
	}
}

func TestDependencyHealthRepositoryCollectDegraded(t *testing.T) {
	checks := []DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return errors.New("boom") }},
		{Name: "events", Check: func(context.Context) error { return nil }},
	}

	repo, err := NewDependencyHealthRepository(checks)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", report.Status)
	}
	if got := report.Checks["postgres"].Detail; got != "boom" {
		t.Fatalf("expected detail boom, got %q", got)
	}
}

func TestDependencyHealthRepositoryCollectTimeout(t *testing.T) {
	checks := []DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	}

	repo, err := NewDependencyHealthRepository(checks)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected status error, got %s", report.Status)
	}
	if got := report.Checks["firestore"].Detail; got != "timeout" {
		t.Fatalf("expected detail timeout, got %s", got)
	}
}

func TestDependencyHealthRepositoryDefaultTimeoutAppliesToChecksWithoutOne(t *testing.T) {
	checks := []DependencyCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(2 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}}

	repo, err := NewDependencyHealthRepository(checks, WithDependencyTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	started := time.Now()
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected the configured default timeout to cut the check short, took %s", elapsed)
	}
	if got := report.Checks["postgres"].Detail; got != "timeout" {
		t.Fatalf("expected detail timeout, got %s", got)
	}
}

func TestNewDependencyHealthRepositoryRejectsUnnamedCheck(t *testing.T) {
	_, err := NewDependencyHealthRepository([]DependencyCheck{{Check: func(context.Context) error { return nil }}})
	if err == nil {
		t.Fatalf("expected error for unnamed check")
	}
}

func TestRepositoryErrorCategories(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NewNotFoundError("orders.get", nil))
	if !IsNotFound(wrapped) {
		t.Fatalf("expected wrapped not found error to be detected")
	}

	conflict := NewConflictError("orders.insert", errors.New("duplicate key"))
	if conflict.IsNotFound() || !conflict.IsConflict() || conflict.IsUnavailable() {
		t.Fatalf("unexpected categorisation for conflict error")
	}
	if conflict.Error() != "orders.insert: duplicate key" {
		t.Fatalf("unexpected message %q", conflict.Error())
	}
	if IsNotFound(errors.New("plain")) {
		t.Fatalf("plain errors must not be treated as not found")
	}
}
