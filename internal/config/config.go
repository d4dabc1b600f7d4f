// Package config loads and validates the engine's declarative
// configuration. All fields are required unless noted; there are no
// silent defaults for production-relevant knobs, mirroring the teacher's
// "explicit YAML, no magic defaults" design.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/northboundlabs/botshield/internal/monitoring"
)

// Config is the root configuration for the detection engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     monitoring.LoggerConfig `yaml:"logging"`
	Salts       SaltsConfig       `yaml:"salts"`
	Policies    PoliciesConfig    `yaml:"policies"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Reputation  ReputationConfig  `yaml:"reputation"`
	Response    ResponseConfig    `yaml:"response"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig holds the HTTP listener settings for the demo server in
// cmd/botshieldd.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RatePerSecond  int           `yaml:"rate_per_second"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// SaltsConfig holds the opaque salt used to derive signatures. Required in
// production: without it, identical (ip, ua) pairs across deployments
// would hash identically.
type SaltsConfig struct {
	IdentityHashSalt string `yaml:"identity_hash_salt"`
}

// PoliciesConfig is the path-to-policy routing table plus the default.
type PoliciesConfig struct {
	Default    string            `yaml:"default"`
	PathRoutes map[string]string `yaml:"path_routes"` // glob path pattern -> policy name
}

// CoordinatorConfig carries the SignatureCoordinator's tunables (spec §6).
type CoordinatorConfig struct {
	MaxSignaturesInWindow             int           `yaml:"max_signatures_in_window"`
	SignatureWindow                   time.Duration `yaml:"signature_window"`
	SignatureTtl                      time.Duration `yaml:"signature_ttl"`
	MaxRequestsPerSignature           int           `yaml:"max_requests_per_signature"`
	AberrationScoreThreshold          float64       `yaml:"aberration_score_threshold"`
	MinRequestsForAberrationDetection int           `yaml:"min_requests_for_aberration_detection"`
}

// ClusterConfig carries the ClusterEngine's tunables (spec §6, §4.8).
type ClusterConfig struct {
	ClusterIntervalSeconds          int     `yaml:"cluster_interval_seconds"`
	MinBotDetectionsToTrigger       int     `yaml:"min_bot_detections_to_trigger"`
	MinBotProbabilityForClustering  float64 `yaml:"min_bot_probability_for_clustering"`
	SimilarityThreshold             float64 `yaml:"similarity_threshold"`
	SemanticWeight                  float64 `yaml:"semantic_weight"`
	TemporalWeight                  float64 `yaml:"temporal_weight"`
	Algorithm                       string  `yaml:"algorithm"` // "louvain" or "label_propagation"
	MinClusterSize                  int     `yaml:"min_cluster_size"`
	ProductSimilarityThreshold      float64 `yaml:"product_similarity_threshold"`
	NetworkTemporalDensityThreshold float64 `yaml:"network_temporal_density_threshold"`
	DecayTauHours                   float64 `yaml:"decay_tau_hours"`
	MinSampleSize                   int     `yaml:"min_sample_size"`
	MaxIterations                   int     `yaml:"max_iterations"`
}

// ReputationConfig carries the ReputationCache's tunables (spec §4.9).
type ReputationConfig struct {
	MinSupportAbort  float64 `yaml:"min_support_abort"`
	MinSupportAllow  float64 `yaml:"min_support_allow"`
	ProbableSupport  float64 `yaml:"probable_support"`  // crossing point for Probably*
	ConfirmedSupport float64 `yaml:"confirmed_support"` // crossing point for Confirmed*
	HalfLife         time.Duration `yaml:"half_life"`
}

// ResponseConfig carries the ResponseDetectionCoordinator's tunables.
type ResponseConfig struct {
	MaxBufferBytes        int `yaml:"max_buffer_bytes"`
	MaxBlockingDurationMs int `yaml:"max_blocking_duration_ms"`
}

// PersistenceConfig selects an optional persistence collaborator.
type PersistenceConfig struct {
	Driver       string `yaml:"driver"` // "", "sqlite", "redis"
	SqlitePath   string `yaml:"sqlite_path"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates configuration from raw YAML bytes,
// expanding ${VAR:-default} references first.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and internal consistency. Startup should
// treat a non-nil return as fatal (spec §7 PolicyConfigError).
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Salts.IdentityHashSalt == "" {
		return fmt.Errorf("salts.identity_hash_salt is required")
	}
	if c.Policies.Default == "" {
		return fmt.Errorf("policies.default is required")
	}
	if c.Coordinator.MaxSignaturesInWindow <= 0 {
		return fmt.Errorf("coordinator.max_signatures_in_window must be > 0")
	}
	if c.Coordinator.SignatureWindow <= 0 {
		return fmt.Errorf("coordinator.signature_window must be > 0")
	}
	if c.Coordinator.SignatureTtl <= 0 {
		return fmt.Errorf("coordinator.signature_ttl must be > 0")
	}
	if c.Coordinator.MaxRequestsPerSignature <= 0 {
		return fmt.Errorf("coordinator.max_requests_per_signature must be > 0")
	}
	if c.Persistence.Driver != "" && c.Persistence.Driver != "sqlite" && c.Persistence.Driver != "redis" {
		return fmt.Errorf("persistence.driver must be one of: \"\", sqlite, redis")
	}
	return nil
}

// Defaults returns a Config populated with the numeric defaults named
// throughout spec §4 and §6, for tests and local development. Production
// deployments should still load an explicit YAML file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080", ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second,
			RatePerSecond: 50,
		},
		Logging: monitoring.LoggerConfig{Level: "info", Format: "json", Output: "stdout"},
		Salts:   SaltsConfig{IdentityHashSalt: "dev-salt-not-for-production"},
		Policies: PoliciesConfig{
			Default:    "default",
			PathRoutes: map[string]string{},
		},
		Coordinator: CoordinatorConfig{
			MaxSignaturesInWindow:             1000,
			SignatureWindow:                   15 * time.Minute,
			SignatureTtl:                      30 * time.Minute,
			MaxRequestsPerSignature:           100,
			AberrationScoreThreshold:          0.7,
			MinRequestsForAberrationDetection: 5,
		},
		Cluster: ClusterConfig{
			ClusterIntervalSeconds:          60,
			MinBotDetectionsToTrigger:       20,
			MinBotProbabilityForClustering:  0.5,
			SimilarityThreshold:             0.7,
			SemanticWeight:                  0.4,
			TemporalWeight:                  0.15,
			Algorithm:                       "louvain",
			MinClusterSize:                  3,
			ProductSimilarityThreshold:      0.8,
			NetworkTemporalDensityThreshold: 0.6,
			DecayTauHours:                   168,
			MinSampleSize:                   10,
			MaxIterations:                   50,
		},
		Reputation: ReputationConfig{
			MinSupportAbort:  10,
			MinSupportAllow:  10,
			ProbableSupport:  3.0,
			ConfirmedSupport: 10.0,
			HalfLife:         7 * 24 * time.Hour,
		},
		Response: ResponseConfig{
			MaxBufferBytes:        64 * 1024,
			MaxBlockingDurationMs: 20,
		},
	}
}
