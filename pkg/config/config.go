// Package config loads the relay's YAML configuration, seeded with defaults
// and optionally overridden from a config file, following the same
// defaults-then-unmarshal pattern used across the retrieval pack's service
// configs.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataConfig controls the primary event store location.
type DataConfig struct {
	Path string `yaml:"path"`
}

// NetworkConfig controls the WebSocket/HTTP listener.
type NetworkConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LimitationConfig bounds inbound frame and query sizes.
type LimitationConfig struct {
	MaxMessageLength       int `yaml:"max_message_length"`
	MaxSubscriptions       int `yaml:"max_subscriptions"`
	MaxFilters             int `yaml:"max_filters"`
	MaxLimit               int `yaml:"max_limit"`
	MaxEventTags           int `yaml:"max_event_tags"`
	MaxEventTimeOlderThan  int64 `yaml:"max_event_time_older_than_now"`
	MaxEventTimeNewerThan  int64 `yaml:"max_event_time_newer_than_now"`
}

// AuthConfig controls NIP-42 and bearer-token enforcement.
type AuthConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	RequireAppAttestation   bool     `yaml:"require_app_attestation"`
	ReqIPWhitelist          []string `yaml:"req_ip_whitelist"`
	EventPubkeyWhitelist    []string `yaml:"event_pubkey_whitelist"`
	EventPubkeyBanlist      []string `yaml:"event_pubkey_banlist"`
	JWKSURL                 string   `yaml:"jwks_url"`
	JWKSURLFile             string   `yaml:"jwks_url_file"`
	BearerAudience          string   `yaml:"bearer_audience"`
}

// RateLimitBucket is one named event-rate bucket.
type RateLimitBucket struct {
	Period int   `yaml:"period"`
	Limit  int   `yaml:"limit"`
	Kinds  []int `yaml:"kinds"`
}

// RateLimiterConfig holds the per-kind publish rate buckets.
type RateLimiterConfig struct {
	Event []RateLimitBucket `yaml:"event"`
}

// MLSGatewayConfig configures the MLS gateway extension.
type MLSGatewayConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	DatabaseURL             string   `yaml:"database_url"`
	ProjectID               string   `yaml:"project_id"`
	KeyPackageTTLSeconds    int64    `yaml:"keypackage_ttl"`
	WelcomeTTLSeconds       int64    `yaml:"welcome_ttl"`
	MaxKeyPackagesPerUser   int      `yaml:"max_keypackages_per_user"`
	MaxKeyPackagesPerQuery  int      `yaml:"max_keypackages_per_query"`
	EnableInProcessDecrypt  bool     `yaml:"enable_in_process_decrypt"`
	PreferredServiceHandler string   `yaml:"preferred_service_handler"` // "in-process" | "external"
	GatingUseRegistryHint   bool     `yaml:"gating_use_registry_hint"`
	MLSServiceUserID        string   `yaml:"mls_service_user_id"`
	AdminPubkeys            []string `yaml:"admin_pubkeys"`
	SystemPubkey            string   `yaml:"system_pubkey"`
	KeyPackageRequestTTL    int64    `yaml:"keypackage_request_ttl"`
	RosterPolicyTTLDays     int      `yaml:"roster_policy_ttl_days"`
	PruningDelaySeconds     int      `yaml:"pruning_delay_seconds"`
	PruningCheckIntervalSec int      `yaml:"pruning_check_interval_seconds"`
	MinHealthyPoolSize      int      `yaml:"min_healthy_pool_size"`
	LastResortDeletionDelay int      `yaml:"last_resort_deletion_delay_seconds"`
}

// ExtensionsConfig wraps every known extension's configuration.
type ExtensionsConfig struct {
	MLSGateway MLSGatewayConfig `yaml:"mls_gateway"`
}

// ServiceMemberConfig configures the in-process MLS service member.
type ServiceMemberConfig struct {
	SigningKeyFile string `yaml:"signing_key_file"`
	DeploymentID   string `yaml:"deployment_id"`
	MACKeyRef      string `yaml:"mac_key_ref"`
	MACEndpoint    string `yaml:"mac_endpoint"`
	AckQuorum      int    `yaml:"ack_quorum"`
	AckDeadlineMin int    `yaml:"ack_deadline_minutes"`
	GraceDays      int    `yaml:"grace_days"`
	MinRotationGap int    `yaml:"min_rotation_gap_minutes"`
	BearerAudience string `yaml:"bearer_audience"`
}

// LogConfig configures the zerolog wrapper.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the root of the relay's configuration tree.
type Config struct {
	Data          DataConfig          `yaml:"data"`
	Network       NetworkConfig       `yaml:"network"`
	Limitation    LimitationConfig    `yaml:"limitation"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimiter   RateLimiterConfig   `yaml:"rate_limiter"`
	Extensions    ExtensionsConfig    `yaml:"extensions"`
	ServiceMember ServiceMemberConfig `yaml:"service_member"`
	Log           LogConfig           `yaml:"log"`
}

// Default returns a Config seeded with the relay's documented defaults.
func Default() Config {
	return Config{
		Data:    DataConfig{Path: "./data"},
		Network: NetworkConfig{Host: "0.0.0.0", Port: 8080},
		Limitation: LimitationConfig{
			MaxMessageLength:      65536,
			MaxSubscriptions:      20,
			MaxFilters:            10,
			MaxLimit:              500,
			MaxEventTags:          2000,
			MaxEventTimeOlderThan: 94608000, // ~3 years
			MaxEventTimeNewerThan: 900,      // 15 minutes
		},
		Auth: AuthConfig{
			Enabled:               true,
			RequireAppAttestation: false,
			BearerAudience:        "mls-relay-session",
		},
		Extensions: ExtensionsConfig{
			MLSGateway: MLSGatewayConfig{
				Enabled:                 true,
				KeyPackageTTLSeconds:    2592000, // 30 days
				WelcomeTTLSeconds:       604800,  // 7 days
				MaxKeyPackagesPerUser:   5,
				MaxKeyPackagesPerQuery:  1,
				EnableInProcessDecrypt:  true,
				PreferredServiceHandler: "in-process",
				GatingUseRegistryHint:   false,
				KeyPackageRequestTTL:    86400,
				RosterPolicyTTLDays:     365,
				PruningDelaySeconds:     300,
				PruningCheckIntervalSec: 30,
				MinHealthyPoolSize:      3,
				LastResortDeletionDelay: 600,
			},
		},
		ServiceMember: ServiceMemberConfig{
			AckQuorum:      1,
			AckDeadlineMin: 30,
			GraceDays:      7,
			MinRotationGap: 10,
			BearerAudience: "mls-gateway-service-member",
		},
		Log: LogConfig{Level: "info", JSON: true},
	}
}

// Load reads configPath (a YAML file) over the defaults. A missing file is
// not an error; the defaults are returned as-is.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	if err := resolveSecretFiles(&cfg); err != nil {
		return Config{}, fmt.Errorf("resolve secret files: %w", err)
	}

	return cfg, nil
}

// resolveSecretFiles fills in *_file-indirected values that were left empty.
func resolveSecretFiles(cfg *Config) error {
	if cfg.Auth.JWKSURLFile != "" && cfg.Auth.JWKSURL == "" {
		val, err := readSecretFile(cfg.Auth.JWKSURLFile)
		if err != nil {
			return fmt.Errorf("jwks_url_file: %w", err)
		}
		cfg.Auth.JWKSURL = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
