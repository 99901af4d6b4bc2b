package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/productshop/api/internal/repositories"
)

func TestWrapErrorMapsStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.Aborted, false, true, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.get", status.Error(tc.code, "boom"))
			var repoErr repositories.RepositoryError
			if assert.ErrorAs(t, err, &repoErr) {
				assert.Equal(t, tc.notFound, repoErr.IsNotFound())
				assert.Equal(t, tc.conflict, repoErr.IsConflict())
				assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			}
			assert.Contains(t, err.Error(), "orders.get")
		})
	}
}

func TestWrapErrorPassesThroughCancellationAndRepositoryErrors(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.Canceled, "client gone")), context.Canceled)

	original := repositories.NewConflictError("inventory.reserve", errors.New("stale"))
	assert.Same(t, original, WrapError("transaction", original))
}
