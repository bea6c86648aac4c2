package notifysdk

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Response represents a generic HTTP JSON response.
type Response struct {
	Message     string            `json:"message"`
	Detail      string            `json:"detail,omitempty"`
	Validations []ValidationError `json:"validations,omitempty"`
}

// ValidationError represents a scoped error to a user input.
type ValidationError struct {
	Field  string `json:"field" validate:"required"`
	Detail string `json:"detail" validate:"required"`
}

// Error represents an unaccepted or invalid request to the API.
type Error struct {
	Response

	StatusCode int
}

func (e *Error) Error() string {
	var builder strings.Builder
	_, _ = fmt.Fprintf(&builder, "unexpected status code %d: %s", e.StatusCode, e.Message)
	if e.Detail != "" {
		_, _ = fmt.Fprintf(&builder, ": %s", e.Detail)
	}
	for _, err := range e.Validations {
		_, _ = fmt.Fprintf(&builder, "\n- %s: %s", err.Field, err.Detail)
	}
	return builder.String()
}

// ReadBodyAsError reads the response as an .Error.
func ReadBodyAsError(res *http.Response) error {
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	var apiError Response
	if err := json.Unmarshal(body, &apiError); err != nil || apiError.Message == "" {
		return &Error{
			StatusCode: res.StatusCode,
			Response: Response{
				Message: "unexpected non-JSON response",
				Detail:  string(body),
			},
		}
	}

	return &Error{
		StatusCode: res.StatusCode,
		Response:   apiError,
	}
}
