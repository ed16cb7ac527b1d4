package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kawishanedirisinghe/Remote-browser/internal/capture"
)

func TestFetchReturnsBodyAndMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "probe", r.Header.Get("X-Probe"))
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	fetcher := New(Config{UserAgent: "remote-browser-test", Timeout: 5 * time.Second})
	resp, err := fetcher.Fetch(context.Background(), capture.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"X-Probe": {"probe"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
}

func TestFetchPropagatesServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := New(Config{Timeout: 5 * time.Second})
	_, err := fetcher.Fetch(context.Background(), capture.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	fetcher := New(Config{})
	_, err := fetcher.Fetch(context.Background(), capture.FetchRequest{URL: "not-a-url"})
	require.Error(t, err)
}
