package api

// StepRequest is the body of POST /step.
type StepRequest struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
