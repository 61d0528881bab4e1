package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "scans"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "scans", Prefix: "/archive/"})
	require.NoError(t, err)
	require.Equal(t, "archive/2024/07/06/a.json", s.ObjectName("/2024/07/06/a.json"))

	bare, err := New(&storage.Client{}, Config{Bucket: "scans"})
	require.NoError(t, err)
	require.Equal(t, "a.json", bare.ObjectName("a.json"))

	_, err = bare.PutObject(context.Background(), "  ", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}
