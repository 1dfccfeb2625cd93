package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"omniui/internal/apperrors"
)

// DefaultErrorMessage is used when neither the response body nor the
// transport offered a usable message.
const DefaultErrorMessage = "An unexpected error occurred"

const maxErrorBody = 64 << 10

// Error is the normalized failure returned by every Client method.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"error"`
	Path    string `json:"path"`
	// Err is the underlying transport or decode failure, when there was one.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is classifies every normalized failure as a transport error.
func (e *Error) Is(target error) bool {
	return target == apperrors.ErrTransport
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

func responseError(resp *http.Response) *Error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	out := normalize(resp.StatusCode, body)
	if readErr != nil {
		out.Err = readErr
	}
	return out
}

func transportError(err error) *Error {
	out := normalize(0, errorBody{})
	out.Err = err
	return out
}

func normalize(status int, body errorBody) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = strings.TrimSpace(body.Error)
	}
	if message == "" {
		message = DefaultErrorMessage
	}
	kind := strings.TrimSpace(body.Error)
	if kind == "" {
		kind = "Error"
	}
	return &Error{
		Status:  status,
		Message: message,
		Kind:    kind,
		Path:    strings.TrimSpace(body.Path),
	}
}

// Message returns the user-facing text of err: the normalized message for
// transport failures and the error string otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// IsUnreachable reports whether err means no response was received from the
// backend at all.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
