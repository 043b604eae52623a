package api

// IngestResponse is returned by POST /ingest/:source on acceptance.
type IngestResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// HealthCheck is one component's slice of the health roll-up.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health/.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Consumers int                    `json:"consumers"`
	Checks    map[string]HealthCheck `json:"checks"`
}
