package clients

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

const fetchAttempts = 3

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".webm": true, ".mkv": true, ".m4v": true,
}

var videoHostHints = []string{"pexels", "vimeo", "youtube", "video"}

// Fetcher downloads remote assets into local temp files. Timeouts and chunk
// sizes depend on whether the URL looks like a video; Pexels hosts get the
// Referer and API-key headers they require.
type Fetcher struct {
	TempDir      string
	PexelsAPIKey string
}

type fetchParams struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	chunkSize      int
}

func paramsForURL(u *url.URL) fetchParams {
	if isVideoLike(u) {
		return fetchParams{connectTimeout: 300 * time.Second, readTimeout: 600 * time.Second, chunkSize: 64 * 1024}
	}
	return fetchParams{connectTimeout: 60 * time.Second, readTimeout: 120 * time.Second, chunkSize: 8 * 1024}
}

func isVideoLike(u *url.URL) bool {
	if videoExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}
	host := strings.ToLower(u.Host)
	for _, hint := range videoHostHints {
		if strings.Contains(host, hint) {
			return true
		}
	}
	return false
}

// Download fetches rawURL into a temp file and returns the local path. The
// caller owns the file. 403/404 fail fast as AssetUnavailable; transport
// errors and 5xx are retried with exponential backoff (2^n seconds).
func (f *Fetcher) Download(ctx context.Context, taskID, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", xerrors.NewInputInvalidError("unparseable asset url %q: %s", rawURL, err)
	}
	params := paramsForURL(u)

	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		ext = ".bin"
	}
	dest := path.Join(f.TempDir, fmt.Sprintf("asset_%s%s", uuid.New().String(), ext))

	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	err = backoff.Retry(func() error {
		if err := f.downloadOnce(ctx, u, dest, params); err != nil {
			log.Log(taskID, "asset download attempt failed", "url", rawURL, "err", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, fetchAttempts-1), ctx))
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	metrics.AssetDownloadDurationSec.Observe(time.Since(start).Seconds())
	return dest, nil
}

func (f *Fetcher) downloadOnce(ctx context.Context, u *url.URL, dest string, params fetchParams) error {
	client := &http.Client{
		Timeout: params.readTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: params.connectTimeout}).DialContext,
			TLSHandshakeTimeout: params.connectTimeout,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return xerrors.Unretriable(fmt.Errorf("error creating request: %w", err))
	}
	f.applyHostHeaders(req, u)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return xerrors.NewAssetUnavailableError(resp.StatusCode, u.String())
	case resp.StatusCode >= 300:
		return fmt.Errorf("bad status code %d fetching %s", resp.StatusCode, u)
	}

	out, err := os.Create(dest)
	if err != nil {
		return xerrors.Unretriable(fmt.Errorf("cannot create temp file: %w", err))
	}
	defer out.Close()

	written, err := io.CopyBuffer(out, resp.Body, make([]byte, params.chunkSize))
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("read error after %d bytes: %w", written, err)
	}
	if written == 0 {
		os.Remove(dest)
		return fmt.Errorf("empty file downloaded from %s", u)
	}
	return nil
}

// applyHostHeaders adds the headers some CDNs insist on. Pexels rejects
// requests without a Referer and serves higher rate limits with the API key.
func (f *Fetcher) applyHostHeaders(req *http.Request, u *url.URL) {
	if strings.Contains(strings.ToLower(u.Host), "pexels") {
		req.Header.Set("Referer", "https://www.pexels.com/")
		if f.PexelsAPIKey != "" {
			req.Header.Set("Authorization", f.PexelsAPIKey)
		}
	}
}

// requireNonEmptyFile verifies a produced artifact exists and has content;
// half-written files are deleted before the error is returned.
func requireNonEmptyFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact missing: %w", err)
	}
	if fi.Size() == 0 {
		os.Remove(path)
		return fmt.Errorf("artifact %s is empty", path)
	}
	return nil
}
