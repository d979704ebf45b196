package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const (
	sendAttempts    = 3
	maxResponseBody = 8192
)

// providerError is a non-2xx answer from an SMS provider.
type providerError struct {
	status int
	detail string
}

func (e *providerError) Error() string { return e.detail }

func (e *providerError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// notSent reports whether a transport error happened before the request
// reached the provider. Any later failure may hide an accepted message.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// doWithRetry sends the request built by newReq up to three times. 429, 5xx
// and connection failures that never reached the provider are retried with
// jitter. Other transport errors and 4xx fail immediately so a message the
// provider may already have accepted is not sent twice.
func doWithRetry(ctx context.Context, client *http.Client, newReq func() (*http.Request, error), describe func(status int, body []byte) string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if !notSent(err) {
				return nil, lastErr
			}
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, nil
			}
			perr := &providerError{status: resp.StatusCode, detail: describe(resp.StatusCode, body)}
			lastErr = perr
			if !perr.retryable() {
				return nil, lastErr
			}
		}

		if attempt < sendAttempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(time.Duration(200+rand.Intn(300)) * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}
