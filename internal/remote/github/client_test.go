package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/umutcrkn/petshop/internal/errs"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL: srv.URL,
		Owner:   "umutcrkn",
		Repo:    "PetShop-Barkod",
		Token:   "tok",
	}, zaptest.NewLogger(t))
	return c, srv
}

func contentsPath(path string) string {
	return "/repos/umutcrkn/PetShop-Barkod/contents/" + path
}

func writeFileResponse(w http.ResponseWriter, sha string, content []byte) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sha":      sha,
		"content":  base64.StdEncoding.EncodeToString(content) + "\n",
		"encoding": "base64",
	})
}

func TestClient_Read(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(contentsPath("data/products.json"), func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token tok", r.Header.Get("Authorization"))
		writeFileResponse(w, "abc123", []byte(`[{"name":"Dog Food"}]`))
	})
	c, _ := newTestClient(t, mux)

	got, err := c.Read(context.Background(), "data/products.json")
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"Dog Food"}]`, string(got))
}

func TestClient_Read_MissingIsEmptyNotError(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.NotFoundHandler())
	got, err := c.Read(context.Background(), "data/products.json")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestClient_Read_NoToken(t *testing.T) {
	t.Parallel()

	c := New(Config{Owner: "o", Repo: "r"}, zaptest.NewLogger(t))
	_, err := c.Read(context.Background(), "data/products.json")
	require.ErrorIs(t, err, errs.ErrNoConnection)
}

func TestClient_Write_FetchesShaBeforePut(t *testing.T) {
	t.Parallel()

	var putBody putRequest
	mux := http.NewServeMux()
	mux.HandleFunc(contentsPath("data/products.json"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeFileResponse(w, "oldsha", []byte(`[]`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			w.WriteHeader(http.StatusOK)
		}
	})
	c, _ := newTestClient(t, mux)

	err := c.Write(context.Background(), "data/products.json", []byte(`[1]`), "Update products")
	require.NoError(t, err)
	require.Equal(t, "oldsha", putBody.SHA)
	require.Equal(t, "Update products", putBody.Message)
	raw, err := base64.StdEncoding.DecodeString(putBody.Content)
	require.NoError(t, err)
	require.Equal(t, `[1]`, string(raw))
}

func TestClient_Write_NewFileOmitsSha(t *testing.T) {
	t.Parallel()

	var putBody putRequest
	mux := http.NewServeMux()
	mux.HandleFunc(contentsPath("data/products.json"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			w.WriteHeader(http.StatusCreated)
		}
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.Write(context.Background(), "data/products.json", []byte(`[]`), "Create products"))
	require.Empty(t, putBody.SHA)
}

func TestClient_Write_ConflictMapsToSentinel(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(contentsPath("data/products.json"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeFileResponse(w, "stale", []byte(`[]`))
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
		}
	})
	c, _ := newTestClient(t, mux)

	err := c.Write(context.Background(), "data/products.json", []byte(`[1]`), "Update products")
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.Read(context.Background(), "data/products.json")
	require.ErrorIs(t, err, errs.ErrTransient)

	err = c.Write(context.Background(), "data/products.json", []byte(`[]`), "m")
	require.ErrorIs(t, err, errs.ErrTransient)
}

func TestClient_BranchRef(t *testing.T) {
	t.Parallel()

	var gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRef = r.URL.Query().Get("ref")
		writeFileResponse(w, "sha", []byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Owner: "o", Repo: "r", Token: "tok", Branch: "main"}, zaptest.NewLogger(t))

	_, err := c.Read(context.Background(), "data/products.json")
	require.NoError(t, err)
	require.Equal(t, "main", gotRef)
}
