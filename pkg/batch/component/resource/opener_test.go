package resource_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

func TestParseLocator(t *testing.T) {
	cases := []struct {
		raw  string
		want resource.Locator
	}{
		{"data/csv/bigtransactions.csv", resource.Locator{Scheme: "file", Path: "data/csv/bigtransactions.csv"}},
		{"file:///data/xml/bigtransactions.xml", resource.Locator{Scheme: "file", Path: "/data/xml/bigtransactions.xml"}},
		{"gs://batch-input/2024/transactions.csv", resource.Locator{Scheme: "gs", Bucket: "batch-input", Path: "2024/transactions.csv"}},
	}
	for _, tc := range cases {
		got, err := resource.ParseLocator(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "gs://bucket-only", "s3://bucket/key"} {
		_, err := resource.ParseLocator(bad)
		assert.Error(t, err, bad)
	}
}

func TestDefaultOpener_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("A,10.00,2024-01-01 00:00:00\n"), 0o600))

	o := resource.NewOpener()
	defer o.Close()

	rc, err := o.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(b), "A,10.00")
}

func TestDefaultOpener_MissingFileIsAcquisitionError(t *testing.T) {
	o := resource.NewOpener()
	_, err := o.Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindResourceAcquisition))
}
