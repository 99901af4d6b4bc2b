package services

import (
	"testing"
	"time"

	domain "github.com/productshop/api/internal/domain"
)

func TestReturnWindowPolicyBoundary(t *testing.T) {
	policy := NewReturnWindowPolicy(24 * time.Hour)
	delivered := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cutoff := delivered.Add(24 * time.Hour)

	if !policy.Open(delivered, delivered) {
		t.Fatalf("expected window open at delivery")
	}
	if !policy.Open(delivered, cutoff) {
		t.Fatalf("expected window open exactly at cutoff")
	}
	if policy.Open(delivered, cutoff.Add(time.Nanosecond)) {
		t.Fatalf("expected window closed after cutoff")
	}
}

func TestNewReturnWindowPolicyDefaults(t *testing.T) {
	if got := NewReturnWindowPolicy(0).Window; got != DefaultReturnWindow {
		t.Fatalf("expected default window %s, got %s", DefaultReturnWindow, got)
	}
}

func TestReturnWindowStartPrefersDeliveryTimestamp(t *testing.T) {
	delivered := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	changed := delivered.Add(time.Hour)

	order := Order{Status: domain.OrderStatusDelivered, DeliveredAt: &delivered, StatusChangedAt: changed}
	if got := returnWindowStart(order); !got.Equal(delivered) {
		t.Fatalf("expected delivery timestamp, got %s", got)
	}

	order.DeliveredAt = nil
	if got := returnWindowStart(order); !got.Equal(changed) {
		t.Fatalf("expected status change timestamp, got %s", got)
	}
}
