package callback

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerFeedsCorrelator(t *testing.T) {
	c := newTestCorrelator(t)
	pending, err := c.Register("state-1")
	require.NoError(t, err)

	srv := NewServer(c, "127.0.0.1:0", nil)
	addr, err := srv.Start()
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + addr + CallbackPath + "?code=the-code&state=state-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "the-code", result.Code)
}

func TestServerRejectsCallbackWithoutLogin(t *testing.T) {
	c := newTestCorrelator(t)
	srv := NewServer(c, "127.0.0.1:0", nil)
	addr, err := srv.Start()
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + addr + CallbackPath + "?code=c&state=s")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
