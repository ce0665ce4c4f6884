package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragchat/types"
)

func TestWriteSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteSuccess(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestWriteErrorStructured(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrNotFound, "session not found").
		WithHTTPStatus(http.StatusNotFound)

	WriteError(rec, err, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestWriteErrorPlain(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, errors.New("boom"), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrValidationRejected, http.StatusUnprocessableEntity},
		{types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{types.ErrRunFailure, http.StatusBadGateway},
		{types.ErrSearchFailure, http.StatusBadGateway},
		{types.ErrEmbeddingFailure, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("UNKNOWN"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"message":"hi","bogus":1}`))

	var dst ChatRequest
	err := DecodeJSONBody(rec, req, &dst, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeJSONBodyValid(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"message":"hi"}`))

	var dst ChatRequest
	require.NoError(t, DecodeJSONBody(rec, req, &dst, nil))
	assert.Equal(t, "hi", dst.Message)
}
