// Package provider holds definitions shared by every provider family
// (stt, llm, tts, realtime).
package provider

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// APIError is returned when a backend answers with a non-2xx status. It keeps
// the status code and the (truncated) response body for diagnostics.
//
// Use errors.As to inspect it:
//
//	var apiErr *provider.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized { ... }
type APIError struct {
	// Provider names the backend, e.g. "openai" or "elevenlabs".
	Provider string

	// StatusCode is the HTTP status returned by the backend.
	StatusCode int

	// Body is the response body, truncated to a few kilobytes.
	Body string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewAPIError builds an APIError from resp, consuming (but not closing) its body.
func NewAPIError(providerName string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
