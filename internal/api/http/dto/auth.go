package dto

import "time"

type TokenRequest struct {
	Subject string `json:"subject" binding:"omitempty,max=255"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
