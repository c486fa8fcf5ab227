package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// APIError is the flat error envelope returned by every protected API route.
// Error carries a stable human string that UI code matches on.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error:     message,
		Code:      code,
		RequestID: requestID,
	})
}

func WriteJSON(w http.ResponseWriter, requestID string, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func WriteUnauthorized(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusUnauthorized, "unauthorized", "Unauthorized")
}

func WriteForbidden(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusForbidden, "forbidden", "Forbidden")
}

func WriteBadRequest(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request", message)
}

func WritePayloadTooLarge(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusRequestEntityTooLarge, "payload_too_large", "Payload Too Large")
}

func WriteNotFound(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusNotFound, "not_found", "Not Found")
}

func WriteMethodNotAllowed(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed")
}

func WriteRateLimit(w http.ResponseWriter, requestID string, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests")
}

// WriteBackendError mirrors a non-2xx status from the inference backend.
func WriteBackendError(w http.ResponseWriter, requestID string, statusCode int) {
	WriteError(w, requestID, statusCode, "backend_error", "Backend Error: "+http.StatusText(statusCode))
}

func WriteBadGateway(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusBadGateway, "bad_gateway", "Backend Error: "+http.StatusText(http.StatusBadGateway))
}

func WriteGatewayTimeout(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusGatewayTimeout, "gateway_timeout", "Backend Error: "+http.StatusText(http.StatusGatewayTimeout))
}

func WriteServiceUnavailable(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "service_unavailable", "Backend Error: "+http.StatusText(http.StatusServiceUnavailable))
}

func WriteInternal(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusInternalServerError, "internal_error", "Internal Server Error")
}
