package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/stepstore"
)

func TestHealthz(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	srv := New(store)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestGetStepFound(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	step, err := store.Create(context.Background(), stepstore.NewStep{Class: "X", Queue: "g", BlockUUID: "b", Index: 1})
	require.NoError(t, err)
	srv := New(store)

	req := httptest.NewRequest(http.MethodGet, "/steps/1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"Class\":\"X\"")
	_ = step
}

func TestGetStepNotFound(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	srv := New(store)

	req := httptest.NewRequest(http.MethodGet, "/steps/999", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStepInvalidID(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	srv := New(store)

	req := httptest.NewRequest(http.MethodGet, "/steps/not-a-number", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
