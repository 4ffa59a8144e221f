package exchangeapi

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// NewJSONRequestBuilder returns a RequestBuilder good enough for any
// exchange whose REST API takes query-string parameters, a JSON body, and
// a single API-key header — which covers every canonical this core talks
// to. Signing (HMAC, nonce, timestamp) is exchange-specific and stays an
// external collaborator's job; this builder only assembles the URL and
// attaches the raw key.
func NewJSONRequestBuilder(baseURL, apiKeyHeader, apiKey string) RequestBuilder {
	return func(ctx context.Context, req Request) (*http.Request, error) {
		u := strings.TrimRight(baseURL, "/") + req.Path
		if len(req.Query) > 0 {
			q := url.Values{}
			for k, v := range req.Query {
				q.Set(k, v)
			}
			u += "?" + q.Encode()
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bytes.NewReader(req.Body))
		if err != nil {
			return nil, err
		}
		if len(req.Body) > 0 {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if apiKeyHeader != "" && apiKey != "" {
			httpReq.Header.Set(apiKeyHeader, apiKey)
		}
		return httpReq, nil
	}
}
