package exchangeapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientReturnsCannedResponse(t *testing.T) {
	f := NewFakeClient()
	f.SetResponse("POST /fapi/v1/order", &Response{StatusCode: http.StatusOK, Body: []byte(`{"orderId":1}`)})

	resp, err := f.Do(context.Background(), Request{EndpointSignature: "POST /fapi/v1/order", AccountKey: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.Calls, 1)
	assert.Equal(t, "acct-1", f.Calls[0].AccountKey)
}

func TestFakeClientReturnsSetError(t *testing.T) {
	f := NewFakeClient()
	boom := assertError{"exchange unavailable"}
	f.SetError("GET /fapi/v1/ticker/price", boom)

	_, err := f.Do(context.Background(), Request{EndpointSignature: "GET /fapi/v1/ticker/price"})
	assert.Equal(t, boom, err)
}

func TestFakeClientUnregisteredEndpointErrors(t *testing.T) {
	f := NewFakeClient()
	_, err := f.Do(context.Background(), Request{EndpointSignature: "GET /unregistered"})
	assert.Error(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
