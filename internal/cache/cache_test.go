package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_ReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	// missing file is empty, not an error
	got, err := c.Read("companies/companies.json")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Write("companies/abc/products.json", []byte(`[{"name":"Dog Food"}]`)))
	got, err = c.Read("companies/abc/products.json")
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"Dog Food"}]`, string(got))

	// overwrite
	require.NoError(t, c.Write("companies/abc/products.json", []byte(`[]`)))
	got, err = c.Read("companies/abc/products.json")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))
}

func TestCache_RejectsTraversal(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = c.Read("../outside.json")
	require.Error(t, err)
	require.Error(t, c.Write("/abs/path.json", nil))
	require.Error(t, c.Write("", nil))
}

func TestCache_Settings(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	s, err := c.Settings()
	require.NoError(t, err)
	require.Empty(t, s.CurrentCompanyID)

	s.CurrentCompanyID = "abc"
	s.AdminPasswordHash = []byte{1, 2, 3}
	s.AdminPasswordSalt = []byte{4, 5, 6}
	require.NoError(t, c.SaveSettings(s))

	got, err := c.Settings()
	require.NoError(t, err)
	require.Equal(t, s, got)
}
