package filings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKindOfClassifies extracts the kind from wrapped fetch errors.
func TestKindOfClassifies(t *testing.T) {
	t.Parallel()

	base := NewFetchError(ErrTransient, "fetch report", "r1", context.DeadlineExceeded)
	require.Equal(t, ErrTransient, KindOf(base))
	require.Equal(t, ErrTransient, KindOf(fmt.Errorf("scrape: %w", base)))
	require.Equal(t, ErrUnexpected, KindOf(errors.New("boom")))
}

// TestFetchErrorUnwraps keeps the cause reachable for errors.Is.
func TestFetchErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := NewFetchError(ErrTransient, "fetch report", "r1", context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "fetch report")
	require.Contains(t, err.Error(), "transient")
}
