package clients

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/reelforge/reel-worker/log"
)

// newRetryableClient builds the shared HTTP client used against provider
// APIs. Retries cover transport errors and 5xx; anything policy-sensitive
// (quota codes, 4xx semantics) is handled by the individual clients.
func newRetryableClient(timeout time.Duration, retryMax int) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: timeout,
	}
	return client.StandardClient()
}
