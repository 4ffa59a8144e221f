// Package exchangeapi is the narrow external-collaborator seam an atomic
// job's exchange-call phase calls through: one HTTP client per exchange
// canonical, gated by internal/throttle, forwarding response headers back
// to the throttler. Exchange request/response payload mapping and
// trading math stay out of scope — Client is deliberately generic.
package exchangeapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cryptoladder/engine/internal/throttle"
)

// Request is the narrow shape a job supplies; it carries its own
// throttler endpoint signature rather than having the client derive one
// from the method+path, since the signature is the contract the
// exchange's published cost table (internal/exchange) is keyed on.
type Request struct {
	EndpointSignature string // e.g. "POST /fapi/v1/order", matches throttle.EndpointTable keys
	Method            string
	Path              string
	Query             map[string]string
	Body              []byte
	AccountKey        string // API key id, forwarded to Acquire; the throttler accounts per canonical bucket and does not use it
}

// Response is the narrow shape a job reads back.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client is the seam atomic jobs call through. Implementations forward
// every call through a Throttler and, on return, feed response headers
// and backoff hints back into it.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient is the one-per-canonical implementation: a bounded
// connection-pool *http.Client wrapping a Throttler gate. The actual
// request construction (base URL, signing, body encoding) is left to a
// RequestBuilder since that is exchange-specific payload mapping out of
// this core's scope; HTTPClient only owns pooling, throttling, and the
// header feedback loop.
type HTTPClient struct {
	http      *http.Client
	throttler *throttle.Throttler
	build     RequestBuilder
	classify  HeaderClassifier
}

// RequestBuilder turns a Request into a concrete *http.Request for one
// exchange canonical (base URL, auth headers, body encoding) — supplied
// by the exchange-specific collaborator, not implemented here.
type RequestBuilder func(ctx context.Context, req Request) (*http.Request, error)

// HeaderClassifier extracts the bucket-name -> used-weight pairs from a
// response's headers (every exchange names its rate-limit headers
// differently) so RecordResponseHeaders can be fed without the client
// needing exchange-specific header knowledge.
type HeaderClassifier func(h http.Header) map[string]int64

// NewHTTPClient builds a pooled client bounded the way a one-per-exchange
// collaborator should be: no unbounded goroutine/connection growth under
// burst load.
func NewHTTPClient(throttler *throttle.Throttler, build RequestBuilder, classify HeaderClassifier) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		http:      &http.Client{Transport: transport, Timeout: 30 * time.Second},
		throttler: throttler,
		build:     build,
		classify:  classify,
	}
}

func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	release, err := c.throttler.Acquire(ctx, req.EndpointSignature, req.AccountKey)
	if err != nil {
		return nil, err
	}
	defer release()

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := make([]byte, 0)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	if c.classify != nil {
		for bucket, used := range c.classify(resp.Header) {
			c.throttler.RecordResponseHeaders(bucket, used)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		for name := range c.throttler.QueryTime(time.Now()) {
			c.throttler.OnBackoffHint(name, retryAfter)
		}
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return time.Second
}
