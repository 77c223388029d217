// Package errors provides deterministic error handling with HTTP-to-MCP
// mapping for warden, so every admin and gateway response carries a
// consistent JSON-RPC error code.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

// MCPError represents a Model Context Protocol error response
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// HTTPError represents an HTTP error with MCP mapping
type HTTPError struct {
	HTTPStatus int
	MCPError   *MCPError
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.HTTPStatus, e.MCPError.Error())
}

// MCP Error Codes (JSON-RPC 2.0 specification)
const (
	// Standard JSON-RPC errors
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603

	// Application-defined range
	ErrorCodeUpstreamFailure    = -32002
	ErrorCodeResourceNotFound   = -32006
	ErrorCodeTimeout            = -32007
	ErrorCodeCircuitOpen        = -32008
	ErrorCodeAlreadyConnected   = -32009
	ErrorCodeManagerUnavailable = -32010
)

// HTTP Status to MCP Error mapping table
var httpToMCPMapping = map[int]int{
	http.StatusBadRequest:          ErrorCodeInvalidRequest,
	http.StatusNotFound:            ErrorCodeResourceNotFound,
	http.StatusConflict:            ErrorCodeAlreadyConnected,
	http.StatusBadGateway:          ErrorCodeUpstreamFailure,
	http.StatusServiceUnavailable:  ErrorCodeCircuitOpen,
	http.StatusGatewayTimeout:      ErrorCodeTimeout,
	http.StatusInternalServerError: ErrorCodeInternalError,
}

// ErrorResponse represents a complete JSON-RPC error response
type ErrorResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Error   *MCPError `json:"error"`
}

// NewMCPError creates a new MCP error with the given code and message
func NewMCPError(code int, message string, data any) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewHTTPError creates a new HTTP error with MCP mapping
func NewHTTPError(httpStatus int, message string, data any) *HTTPError {
	mcpCode, exists := httpToMCPMapping[httpStatus]
	if !exists {
		mcpCode = ErrorCodeInternalError
	}

	return &HTTPError{
		HTTPStatus: httpStatus,
		MCPError:   NewMCPError(mcpCode, message, data),
	}
}

// NewCircuitOpenError creates a 503 circuit breaker open error
func NewCircuitOpenError(serverID string) *HTTPError {
	data := map[string]any{
		"server_id": serverID,
	}
	return NewHTTPError(http.StatusServiceUnavailable, "Circuit breaker open", data)
}

// NewTimeoutError creates a 504 connect timeout error
func NewTimeoutError(serverID string) *HTTPError {
	data := map[string]any{
		"server_id": serverID,
	}
	return NewHTTPError(http.StatusGatewayTimeout, "Server connection timed out", data)
}

// NewUpstreamFailureError creates a 502 transport failure error
func NewUpstreamFailureError(serverID, detail string) *HTTPError {
	data := map[string]any{
		"server_id": serverID,
		"detail":    detail,
	}
	return NewHTTPError(http.StatusBadGateway, "Server transport failure", data)
}

// NewNotFoundError creates a 404 unknown server error
func NewNotFoundError(serverID string) *HTTPError {
	data := map[string]any{
		"server_id": serverID,
	}
	return NewHTTPError(http.StatusNotFound, "Server not found", data)
}

// NewAlreadyConnectedError creates a 409 duplicate connection error
func NewAlreadyConnectedError(serverID string) *HTTPError {
	data := map[string]any{
		"server_id": serverID,
	}
	return NewHTTPError(http.StatusConflict, "Server already connected", data)
}

// NewInternalError creates a 500 internal error (no sensitive details)
func NewInternalError() *HTTPError {
	return NewHTTPError(http.StatusInternalServerError, "Internal server error", nil)
}

// FromManagerError translates a connection-manager error into its HTTP
// and MCP representation. serverID may be empty when the operation was
// not server-scoped.
func FromManagerError(serverID string, err error) *HTTPError {
	var te *manager.TransportError
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, manager.ErrCircuitOpen):
		return NewCircuitOpenError(serverID)
	case stderrors.Is(err, manager.ErrTimeout):
		return NewTimeoutError(serverID)
	case stderrors.Is(err, manager.ErrAlreadyConnected):
		return NewAlreadyConnectedError(serverID)
	case stderrors.Is(err, manager.ErrNotFound), stderrors.Is(err, manager.ErrServerNotFound):
		return NewNotFoundError(serverID)
	case stderrors.As(err, &te):
		return NewUpstreamFailureError(te.ServerID, te.Err.Error())
	case stderrors.Is(err, manager.ErrClosed):
		return NewHTTPError(http.StatusServiceUnavailable, "Connection manager is shut down",
			map[string]any{"code": ErrorCodeManagerUnavailable})
	default:
		return NewInternalError()
	}
}

// ToJSONRPCResponse converts an HTTPError to a JSON-RPC error response
func (e *HTTPError) ToJSONRPCResponse(id any) *ErrorResponse {
	return &ErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   e.MCPError,
	}
}

// WriteHTTPResponse writes the error as an HTTP response
func (e *HTTPError) WriteHTTPResponse(w http.ResponseWriter, requestID any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)

	response := e.ToJSONRPCResponse(requestID)
	return json.NewEncoder(w).Encode(response)
}

// MapHTTPStatusToMCP maps HTTP status codes to MCP error codes
func MapHTTPStatusToMCP(httpStatus int) int {
	if mcpCode, exists := httpToMCPMapping[httpStatus]; exists {
		return mcpCode
	}
	return ErrorCodeInternalError
}

// IsRetryableError determines if an error should trigger retry logic
func IsRetryableError(err error) bool {
	if httpErr, ok := err.(*HTTPError); ok {
		switch httpErr.HTTPStatus {
		case http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var te *manager.TransportError
	return stderrors.Is(err, manager.ErrTimeout) || stderrors.As(err, &te)
}

// IsClientError determines if an error is a client-side error (4xx)
func IsClientError(err error) bool {
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.HTTPStatus >= 400 && httpErr.HTTPStatus < 500
	}
	return false
}

// IsServerError determines if an error is a server-side error (5xx)
func IsServerError(err error) bool {
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.HTTPStatus >= 500
	}
	return false
}

// RetryAfter suggests a client retry delay for transient failures.
func RetryAfter(err error) (time.Duration, bool) {
	if !IsRetryableError(err) {
		return 0, false
	}
	return 5 * time.Second, true
}
