package redmine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from Redmine.
type APIError struct {
	StatusCode int
	Errors     []string // validation messages from {"errors": [...]}
	Body       string
}

func (e *APIError) Error() string {
	msg := http.StatusText(e.StatusCode)
	if len(e.Errors) > 0 {
		msg = strings.Join(e.Errors, "; ")
	} else if e.Body != "" {
		msg = e.Body
	}
	return fmt.Sprintf("redmine API error (status %d): %s", e.StatusCode, msg)
}

// IsNotFound reports whether err is a 404 from Redmine.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// parseAPIError builds an APIError from a response body. Redmine reports
// validation failures as {"errors": ["Subject cannot be blank", ...]}.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		apiErr.Errors = payload.Errors
		return apiErr
	}
	apiErr.Body = strings.TrimSpace(string(body))
	if len(apiErr.Body) > 512 {
		apiErr.Body = apiErr.Body[:512]
	}
	return apiErr
}
