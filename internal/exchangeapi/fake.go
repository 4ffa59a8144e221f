package exchangeapi

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is an in-memory Client used by job tests that don't need a
// live exchange — register canned responses per endpoint signature and
// record what was called, the same seam internal/positions' tests drive
// atomic jobs through.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string]*Response
	errors    map[string]error
	Calls     []Request
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		responses: make(map[string]*Response),
		errors:    make(map[string]error),
	}
}

func (f *FakeClient) SetResponse(endpointSignature string, resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[endpointSignature] = resp
}

func (f *FakeClient) SetError(endpointSignature string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[endpointSignature] = err
}

func (f *FakeClient) Do(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)

	if err, ok := f.errors[req.EndpointSignature]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.EndpointSignature]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("exchangeapi: fake has no canned response for %q", req.EndpointSignature)
}
