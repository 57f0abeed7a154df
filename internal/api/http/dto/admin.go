package dto

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type SyncResponse struct {
	Reported int    `json:"reported"`
	Error    string `json:"error,omitempty"`
}

type RestartResponse struct {
	Protocol  string `json:"protocol"`
	Restarted bool   `json:"restarted"`
}
