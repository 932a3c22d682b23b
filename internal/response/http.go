// Package response defines the JSON envelopes shared by the read API's
// indicator, ranking and ops endpoints.
package response

// APIResponse wraps every successful payload the read API returns.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
