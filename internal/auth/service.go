// Package auth exchanges the admin API key for short-lived bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

const RoleAdmin = "admin"

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	apiKey string
	config JWTConfig
	now    func() time.Time
}

func NewService(apiKey string, config JWTConfig) *Service {
	return &Service{apiKey: apiKey, config: config, now: time.Now}
}

// IssueToken returns a token for subject when key matches the admin key.
func (s *Service) IssueToken(key, subject string) (string, time.Time, error) {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if subject == "" {
		subject = RoleAdmin
	}

	now := s.now()
	token, err := GenerateToken(s.config, subject, RoleAdmin, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	return token, now.Add(s.config.ttl()), nil
}
