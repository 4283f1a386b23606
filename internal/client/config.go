package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/staffconsole/internal/logger"
)

// Config holds common client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Debug   bool

	// Cache enables in-memory conditional caching of GET responses.
	Cache bool

	// Retries is the number of attempts for idempotent requests that
	// fail without a response. Values below 2 disable retrying.
	Retries uint

	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:4000",
		Timeout: 30 * time.Second,
	}
}

// Transport is the http.Client built for a Config along with the
// optional response cache, so callers can reset it when the session changes.
type Transport struct {
	HTTP  *http.Client
	Cache *SessionCache
}

// NewTransport builds the http.Client used underneath the client core.
// jar carries the refresh cookie; it may be nil in tests.
func NewTransport(cfg Config, jar http.CookieJar, log zerolog.Logger) *Transport {
	var (
		rt    http.RoundTripper = http.DefaultTransport
		cache *SessionCache
	)

	if cfg.Tracing {
		rt = otelhttp.NewTransport(rt)
	}

	if cfg.Cache {
		cache = NewSessionCache()
		ct := httpcache.NewTransport(cache)
		ct.Transport = rt
		rt = ct
	}

	if cfg.Retries > 1 {
		rt = newRetryTransport(rt, cfg.Retries)
	}

	rt = logger.NewRequestLogger(log, rt)

	return &Transport{
		HTTP: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   cfg.Timeout,
		},
		Cache: cache,
	}
}
