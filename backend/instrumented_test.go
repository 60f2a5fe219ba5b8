package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedBackendDelegates(t *testing.T) {
	ib := NewInstrumentedBackend(newTestFilesystem(t), "filesystem")
	ctx := context.Background()

	require.NoError(t, ib.Write(ctx, "state/a", strings.NewReader("hello")))

	exists, err := ib.Exists(ctx, "state/a")
	require.NoError(t, err)
	require.True(t, exists)

	rc, err := ib.Read(ctx, "state/a")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello", string(got))

	keys, err := ib.List(ctx, "state")
	require.NoError(t, err)
	require.Equal(t, []string{"state/a"}, keys)

	require.NoError(t, ib.Delete(ctx, "state/a"))
	_, err = ib.Read(ctx, "state/a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedBackendUnwrap(t *testing.T) {
	fs := newTestFilesystem(t)
	ib := NewInstrumentedBackend(fs, "filesystem")
	require.Same(t, fs, ib.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "success", outcomeFromError(nil))
	require.Equal(t, "not_found", outcomeFromError(ErrNotFound))
	require.Equal(t, "not_found", outcomeFromError(fmt.Errorf("wrapped: %w", ErrNotFound)))
	require.Equal(t, "error", outcomeFromError(errors.New("boom")))
}
