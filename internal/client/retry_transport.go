package client

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// retryTransport resends bodiless idempotent requests that failed without a
// response. Responses, including 5xx, are always returned as received.
type retryTransport struct {
	next     http.RoundTripper
	maxTries uint
	initial  time.Duration
}

func newRetryTransport(next http.RoundTripper, maxTries uint) *retryTransport {
	return &retryTransport{
		next:     next,
		maxTries: maxTries,
		initial:  retryInitialInterval,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !retryable(req) {
		return t.next.RoundTrip(req)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initial
	b.MaxInterval = retryMaxInterval

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		resp, err := t.next.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, backoff.Permanent(err)
		}

		log.Debug().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("attempt", attempt).
			Msg("request failed without response, retrying")

		return nil, err
	}

	return backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.maxTries),
	)
}

func retryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return req.Body == nil || req.Body == http.NoBody
	default:
		return false
	}
}
