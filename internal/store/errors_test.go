package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		notFound  bool
		duplicate bool
	}{
		{name: "nil", err: nil},
		{name: "generic", err: errors.New("some error")},
		{name: "batch not found", err: ErrBatchNotFound, notFound: true},
		{name: "wrapped batch not found", err: fmt.Errorf("lookup: %w", ErrBatchNotFound), notFound: true},
		{name: "member exists", err: ErrMemberExists, duplicate: true},
		{name: "wrapped member exists", err: fmt.Errorf("failed to create batch: %w", ErrMemberExists), duplicate: true},
		{name: "update refused", err: ErrUpdateFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.notFound, IsNotFoundError(tc.err))
			assert.Equal(t, tc.duplicate, IsDuplicateError(tc.err))
		})
	}
}
