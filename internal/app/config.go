// Package app loads configuration and wires the service graph shared by
// the server and the operator CLI.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	internalhttp "github.com/EternisAI/tunnel-manager/internal/api/http"
	"github.com/EternisAI/tunnel-manager/internal/db"
	grpctls "github.com/EternisAI/tunnel-manager/internal/grpc/tls"
)

type Config struct {
	Log             LogConfig           `mapstructure:"log"`
	Http            internalhttp.Config `mapstructure:"http"`
	DB              db.Config           `mapstructure:"db"`
	Storage         StorageConfig       `mapstructure:"storage"`
	Server          ServerConfig        `mapstructure:"server"`
	Peers           PeersConfig         `mapstructure:"peers"`
	Sync            SyncConfig          `mapstructure:"sync"`
	Central         CentralConfig       `mapstructure:"central"`
	ProtocolsFile   string              `mapstructure:"protocols_file"`
	DefaultProtocol string              `mapstructure:"default_protocol"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	AccessKey      string        `mapstructure:"access_key" json:"-"`
	SecretKey      string        `mapstructure:"secret_key" json:"-"`
	PresignTTL     time.Duration `mapstructure:"presign_ttl"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	EnsureBucket   bool          `mapstructure:"ensure_bucket"`
}

type ServerConfig struct {
	PublicHost  string   `mapstructure:"public_host"`
	DisplayName string   `mapstructure:"display_name"`
	StunServers []string `mapstructure:"stun_servers"`
}

type PeersConfig struct {
	OnlineThresholdSeconds     int      `mapstructure:"online_threshold_seconds"`
	PersistentKeepaliveSeconds int      `mapstructure:"persistent_keepalive_seconds"`
	DefaultExpiryDays          int      `mapstructure:"default_expiry_days"`
	DNS                        []string `mapstructure:"dns"`
}

type SyncConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

type CentralConfig struct {
	Address   string         `mapstructure:"address"`
	ClusterID string         `mapstructure:"cluster_id"`
	APIKey    string         `mapstructure:"api_key" json:"-"`
	TLS       grpctls.Config `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "INFO")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.token_ttl", time.Hour)
	v.SetDefault("db.schema", "public")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.presign_ttl", 7*24*time.Hour)
	v.SetDefault("server.display_name", "AmneziaWG Server")
	v.SetDefault("peers.online_threshold_seconds", 180)
	v.SetDefault("peers.persistent_keepalive_seconds", 25)
	v.SetDefault("peers.default_expiry_days", 30)
	v.SetDefault("peers.dns", []string{"1.1.1.1", "1.0.0.1"})
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval_seconds", 60)
	v.SetDefault("central.cluster_id", "default")
	v.SetDefault("protocols_file", "protocols.yaml")
	v.SetDefault("default_protocol", "amneziawg")
}

// LoadConfig reads application.yaml from the working directory or any of
// extraPaths, then applies environment overrides (db.url → DB_URL). A
// missing file is not an error.
func LoadConfig(extraPaths ...string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range extraPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// AutomaticEnv only sees keys viper already knows about
	for _, key := range []string{
		"http.admin_api_key", "http.jwt_secret", "db.url",
		"storage.bucket", "storage.endpoint", "storage.access_key", "storage.secret_key",
		"server.public_host", "central.address", "central.api_key",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
