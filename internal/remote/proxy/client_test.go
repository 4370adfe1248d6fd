package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/umutcrkn/petshop/internal/errs"
)

func TestClient_ReadWrite(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{"data/products.json": []byte(`[]`)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		switch r.Method {
		case http.MethodGet:
			data, ok := files[r.URL.Query().Get("path")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		case http.MethodPut:
			var pr putRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pr))
			raw, err := base64.StdEncoding.DecodeString(pr.Content)
			require.NoError(t, err)
			files[pr.Path] = raw
		}
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	ctx := context.Background()

	got, err := c.Read(ctx, "data/products.json")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))

	missing, err := c.Read(ctx, "data/sales.json")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, c.Write(ctx, "data/sales.json", []byte(`[1]`), "Update sales"))
	require.Equal(t, []byte(`[1]`), files["data/sales.json"])
}

func TestClient_ConflictAndTransient(t *testing.T) {
	t.Parallel()

	status := http.StatusConflict
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	err := c.Write(ctx, "data/products.json", []byte(`[]`), "m")
	require.ErrorIs(t, err, errs.ErrConflict)

	status = http.StatusInternalServerError
	err = c.Write(ctx, "data/products.json", []byte(`[]`), "m")
	require.ErrorIs(t, err, errs.ErrTransient)
}

func TestClient_Unconfigured(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.Read(context.Background(), "data/products.json")
	require.ErrorIs(t, err, errs.ErrNoConnection)
	require.ErrorIs(t, c.Write(context.Background(), "p", nil, "m"), errs.ErrNoConnection)
}
