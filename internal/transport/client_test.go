package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/wire"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, AccessToken: "tok"}, zerolog.Nop())
}

func TestCall_Success(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		b, _ := wire.Marshal(map[string]int{"available_space": 42})
		w.Write(b)
	})

	var out map[string]int
	err := c.Call(context.Background(), http.MethodPost, "/api/v1/status", nil, &out)
	require.NoError(t, err)
	require.Equal(t, 42, out["available_space"])
}

func TestCall_ApplicationErrorNotRetried(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		b, _ := wire.Marshal(wire.ErrorBody{Message: "path has children"})
		w.Write(b)
	})

	err := c.Call(context.Background(), http.MethodPost, "/api/v1/remove", nil, nil)
	require.Error(t, err)
	var appErr *wire.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 1, calls)
}
