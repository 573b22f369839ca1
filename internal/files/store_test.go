package files

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/ids"
)

func TestValidBucket(t *testing.T) {
	for _, bucket := range Buckets {
		require.True(t, ValidBucket(bucket))
	}
	require.False(t, ValidBucket("static"))
	require.False(t, ValidBucket("somewhere"))
}

func TestCreateRejectsBadNames(t *testing.T) {
	store, err := NewStore(nil, ids.New(0), t.TempDir())
	require.NoError(t, err)

	_, err = store.Create(context.Background(), "attachments",
		strings.Repeat("a", 257), bytes.NewReader([]byte("x")), false)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "VALIDATION", apiErr.Type)
}

func TestCreateRejectsEmptyFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(nil, ids.New(0), root)
	require.NoError(t, err)

	_, err = store.Create(context.Background(), "attachments",
		"empty.bin", bytes.NewReader(nil), false)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "VALIDATION", apiErr.Type)

	// The spooled temp blob is cleaned up.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, entry := range entries {
		require.True(t, entry.IsDir(), "leftover temp blob %s", entry.Name())
	}
}
