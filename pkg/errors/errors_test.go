package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

func TestFromManagerError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"circuit open", manager.ErrCircuitOpen, http.StatusServiceUnavailable, ErrorCodeCircuitOpen},
		{"timeout", manager.ErrTimeout, http.StatusGatewayTimeout, ErrorCodeTimeout},
		{"already connected", manager.ErrAlreadyConnected, http.StatusConflict, ErrorCodeAlreadyConnected},
		{"not found", manager.ErrNotFound, http.StatusNotFound, ErrorCodeResourceNotFound},
		{"no active connection", manager.ErrServerNotFound, http.StatusNotFound, ErrorCodeResourceNotFound},
		{
			"transport failure",
			&manager.TransportError{ServerID: "fs", Err: stderrors.New("spawn failed")},
			http.StatusBadGateway, ErrorCodeUpstreamFailure,
		},
		{"manager closed", manager.ErrClosed, http.StatusServiceUnavailable, ErrorCodeCircuitOpen},
		{"unknown error", stderrors.New("boom"), http.StatusInternalServerError, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := FromManagerError("fs", tt.err)
			require.NotNil(t, httpErr)
			assert.Equal(t, tt.wantStatus, httpErr.HTTPStatus)
			assert.Equal(t, tt.wantCode, httpErr.MCPError.Code)
		})
	}
}

func TestFromManagerErrorNil(t *testing.T) {
	assert.Nil(t, FromManagerError("fs", nil))
}

func TestFromManagerErrorWrapped(t *testing.T) {
	// Manager errors arrive wrapped with server context; mapping must
	// see through the wrapping.
	wrapped := &manager.TransportError{
		ServerID: "fs",
		Err:      manager.ErrTimeout,
	}
	httpErr := FromManagerError("fs", wrapped)
	assert.Equal(t, http.StatusGatewayTimeout, httpErr.HTTPStatus)
}

func TestWriteHTTPResponse(t *testing.T) {
	httpErr := NewCircuitOpenError("flaky")

	rec := httptest.NewRecorder()
	require.NoError(t, httpErr.WriteHTTPResponse(rec, 7))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, float64(7), resp.ID)
	assert.Equal(t, ErrorCodeCircuitOpen, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flaky", data["server_id"])
}

func TestMapHTTPStatusToMCP(t *testing.T) {
	assert.Equal(t, ErrorCodeCircuitOpen, MapHTTPStatusToMCP(http.StatusServiceUnavailable))
	assert.Equal(t, ErrorCodeTimeout, MapHTTPStatusToMCP(http.StatusGatewayTimeout))
	assert.Equal(t, ErrorCodeInternalError, MapHTTPStatusToMCP(http.StatusTeapot))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRetryableError(NewUpstreamFailureError("fs", "reset")))
	assert.True(t, IsRetryableError(NewCircuitOpenError("fs")))
	assert.True(t, IsRetryableError(manager.ErrTimeout))
	assert.False(t, IsRetryableError(NewNotFoundError("fs")))
	assert.False(t, IsRetryableError(stderrors.New("plain")))

	assert.True(t, IsClientError(NewNotFoundError("fs")))
	assert.False(t, IsClientError(NewInternalError()))

	assert.True(t, IsServerError(NewInternalError()))
	assert.False(t, IsServerError(NewAlreadyConnectedError("fs")))
}

func TestRetryAfter(t *testing.T) {
	d, ok := RetryAfter(NewCircuitOpenError("fs"))
	assert.True(t, ok)
	assert.Positive(t, d)

	_, ok = RetryAfter(NewNotFoundError("fs"))
	assert.False(t, ok)
}
