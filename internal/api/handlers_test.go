package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrade/engine/internal/auction"
)

func TestHealthCheck(t *testing.T) {
	handler := NewHandler(zerolog.Nop(), nil)
	router := SetupRoutes(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRunSolve_ReturnsBatchId(t *testing.T) {
	wantId := auction.NewBatchId()
	handler := NewHandler(zerolog.Nop(), func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
		return wantId, nil
	})
	router := SetupRoutes(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/solve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, wantId.String(), body["batch_id"])
}

func TestRunSolve_PropagatesError(t *testing.T) {
	handler := NewHandler(zerolog.Nop(), func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error) {
		return auction.BatchId{}, errors.New("solver infeasible")
	})
	router := SetupRoutes(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/solve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
