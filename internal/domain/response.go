package domain

// Storage modes reported by the ingest service.
const (
	ModeCloud = "cloud"
	ModeLocal = "local"
)

// IngestResponse is the JSON body returned by the ingest endpoint.
type IngestResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Mode    string `json:"mode,omitempty"`
	Error   string `json:"error,omitempty"`
	File    string `json:"file,omitempty"`
}
