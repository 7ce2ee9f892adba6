package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message, e.g. missing required parameter "mode".
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}

// HealthResponse is returned by /readyz.
type HealthResponse struct {
	Status string `json:"status"`
	// Service identity from the loaded metadata.
	App string `json:"app,omitempty"`
	// Name of the accelerator used for admission, empty when disabled.
	Device string `json:"device,omitempty"`
}
