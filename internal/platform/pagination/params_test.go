package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("expected empty token and cursor, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values = url.Values{}
	values.Set("page_size", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 40 {
		t.Fatalf("expected page size clamped to 40 got %d", params.PageSize)
	}

	values.Set("page_size", "-1")
	if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestTokenRoundTripAndOrdering(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: createdAt, ID: "ord_b"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !params.Cursor.CreatedAt.Equal(createdAt) || params.Cursor.ID != "ord_b" {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}

	if !params.Cursor.After(createdAt.Add(-time.Second), "ord_z") {
		t.Fatalf("older items must follow the cursor")
	}
	if !params.Cursor.After(createdAt, "ord_a") {
		t.Fatalf("same timestamp with smaller id must follow the cursor")
	}
	if params.Cursor.After(createdAt, "ord_b") {
		t.Fatalf("the cursor item itself must not be repeated")
	}
}

func TestParseRejectsMalformedToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "%%%")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
