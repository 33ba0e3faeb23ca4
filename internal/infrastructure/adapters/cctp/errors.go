package cctp

import "fmt"

// ErrorResponse represents a CCTP API error response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	// Iris v1 reports problems in an "error" field
	Detail string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("CCTP API error [%d]: %s", e.StatusCode, e.message())
}

func (e *ErrorResponse) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Detail
}

func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == 404
}

func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}
