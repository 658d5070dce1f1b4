package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"net/http"

	xhttp "BondYield/pkg/http"
)

// httpServiceBase centralizes client construction and JSON POST handling
// for remote calculation services.
type httpServiceBase struct {
	baseURL    string
	client     *xhttp.Client
	retryDelay time.Duration
}

func newHTTPServiceBase(baseURL string, client *xhttp.Client, retryDelay time.Duration) *httpServiceBase {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &httpServiceBase{baseURL: baseURL, client: client, retryDelay: retryDelay}
}

// postJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *httpServiceBase) postJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("engine http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: http.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// postJSONWithRetry retries transport errors and temporary statuses.
// 4xx answers are final.
func (b *httpServiceBase) postJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.postJSON(ctx, path, payload, dest)
		if err == nil || !retryable(err) || i == attempts {
			return err
		}
		select {
		case <-time.After(b.backoff(i, err)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// maxRetryAfter bounds how long a Retry-After header may hold a YTW request.
const maxRetryAfter = 2 * time.Second

// backoff grows linearly with the attempt and honours a short Retry-After.
func (b *httpServiceBase) backoff(attempt int, err error) time.Duration {
	d := time.Duration(attempt) * b.retryDelay
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = min(se.RetryAfter, maxRetryAfter)
	}
	return d
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
