package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDownloadsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := New("0.1.0")
	dest := filepath.Join(t.TempDir(), "out")
	err := f.Get(context.Background(), srv.URL, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestGetSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New("1.2.3")
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, f.Get(context.Background(), srv.URL, dest))
	assert.Equal(t, "rv/1.2.3", gotUA)
}

func TestGetRetriesOn500ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	f := New("0.1.0")
	dest := filepath.Join(t.TempDir(), "out")
	err := f.Get(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2)

	data, _ := os.ReadFile(dest)
	assert.Equal(t, "eventually", string(data))
}

func TestGetFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New("0.1.0")
	dest := filepath.Join(t.TempDir(), "out")
	err := f.Get(context.Background(), srv.URL, dest)
	assert.Error(t, err)
}

func TestGitHubTokenNotSentToOtherHosts(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "secret-token")
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New("0.1.0")
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, f.Get(context.Background(), srv.URL, dest))
	assert.Empty(t, gotAuth, "a non-github host must never receive the github token")
}

func TestIsGitHubHost(t *testing.T) {
	assert.True(t, isGitHubHost("https://github.com/foo/bar"))
	assert.True(t, isGitHubHost("https://api.github.com/repos/foo/bar"))
	assert.False(t, isGitHubHost("https://example.com/foo"))
}
