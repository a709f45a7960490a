package types

// SuccessEnvelope wraps every 2xx body on the ingress API.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public half of a typed error. RequestID echoes the
// X-Request-Id header so operators can find the matching log entry.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// HealthReport is the body of the readiness probes.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
