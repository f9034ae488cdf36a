package kernl

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a response body is kept in errors.
const maxErrorBody = 512

var (
	// ErrUnexpectedStatus is wrapped by StatusError.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrEmptyToken is returned when authentication succeeds without a token.
	ErrEmptyToken = errors.New("authentication returned an empty token")

	errURLRequired      = errors.New("service url must be provided")
	errPluginIDRequired = errors.New("plugin id must be provided")
	errTokenRequired    = errors.New("token must be provided")
)

// StatusError reports a response with an unexpected status code.
type StatusError struct {
	// StatusCode is the HTTP status code received.
	StatusCode int
	// Body is the beginning of the response body.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	text := fmt.Sprintf("%s: %d %s", ErrUnexpectedStatus, e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		text += ": " + body
	}

	return text
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

func newStatusError(code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return &StatusError{
		StatusCode: code,
		Body:       string(body),
	}
}
