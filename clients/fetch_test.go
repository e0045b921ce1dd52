package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/stretchr/testify/require"
)

func TestParamsForURL(t *testing.T) {
	mustParse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}

	video := paramsForURL(mustParse("https://cdn.example.com/clip.mp4"))
	require.Equal(t, 64*1024, video.chunkSize)

	// host hint counts even without a video extension
	pexels := paramsForURL(mustParse("https://videos.pexels.com/abc"))
	require.Equal(t, 64*1024, pexels.chunkSize)

	image := paramsForURL(mustParse("https://cdn.example.com/photo.jpg"))
	require.Equal(t, 8*1024, image.chunkSize)
}

func TestDownloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("imagedata"))
	}))
	defer server.Close()

	f := &Fetcher{TempDir: t.TempDir()}
	path, err := f.Download(context.Background(), "task1", server.URL+"/photo.jpg")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "imagedata", string(data))
}

func TestDownloadForbiddenFailsFast(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := &Fetcher{TempDir: t.TempDir()}
	_, err := f.Download(context.Background(), "task1", server.URL+"/gone.jpg")
	require.Error(t, err)
	require.True(t, xerrors.IsAssetUnavailable(err))
	require.Equal(t, int32(1), attempts.Load())
}

func TestPexelsHostHeaders(t *testing.T) {
	f := &Fetcher{PexelsAPIKey: "px-key"}

	u, err := url.Parse("https://videos.pexels.com/clip.mp4")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	require.NoError(t, err)
	f.applyHostHeaders(req, u)
	require.Equal(t, "https://www.pexels.com/", req.Header.Get("Referer"))
	require.Equal(t, "px-key", req.Header.Get("Authorization"))

	other, err := url.Parse("https://cdn.example.com/clip.mp4")
	require.NoError(t, err)
	req2, err := http.NewRequest(http.MethodGet, other.String(), nil)
	require.NoError(t, err)
	f.applyHostHeaders(req2, other)
	require.Empty(t, req2.Header.Get("Authorization"))
}
