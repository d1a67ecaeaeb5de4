package errors

// ErrorResponse represents the error body the outer api layer renders
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Retryable     bool           `json:"retryable,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// NewErrorResponse shapes err for callers outside the core. Hints become the
// display message; allocation failures are flagged as retryable.
func NewErrorResponse(err error) ErrorResponse {
	display := GetHint(err)
	if display == "" {
		display = "could not save, please retry"
	}
	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Display:       display,
			InternalError: err.Error(),
			Retryable:     IsRetryable(err),
		},
	}
}
