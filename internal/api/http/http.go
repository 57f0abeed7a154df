package http

import "time"

type Config struct {
	Port        uint          `mapstructure:"port"`
	AdminAPIKey string        `mapstructure:"admin_api_key" json:"-"`
	JWTSecret   string        `mapstructure:"jwt_secret" json:"-"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}
