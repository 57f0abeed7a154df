package dto

type HealthResponse struct {
	Status    string   `json:"status"`
	Protocols []string `json:"protocols"`
}
