package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig holds the per-IP and global token-bucket rates the
// relay applies ahead of the acceptance pipeline (§4.3 commentary:
// rate limiting is an outer guard, not a pipeline step). Rates are
// strings like "10/s" or "5/minute", parsed by pkg/relay's
// parseRateLimit.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	GlobalEventLimit string `yaml:"global_event_limit" json:"global_event_limit"`
	GlobalReqLimit   string `yaml:"global_req_limit" json:"global_req_limit"`
	GlobalCountLimit string `yaml:"global_count_limit" json:"global_count_limit"`
	MaxGlobal        int    `yaml:"max_global" json:"max_global"`

	IPEventLimit string `yaml:"ip_event_limit" json:"ip_event_limit"`
	IPReqLimit   string `yaml:"ip_req_limit" json:"ip_req_limit"`
	IPCountLimit string `yaml:"ip_count_limit" json:"ip_count_limit"`
	MaxPerIP     int    `yaml:"max_per_ip" json:"max_per_ip"`

	MaxConnections   int    `yaml:"max_connections" json:"max_connections"`
	MaxEventSize     int    `yaml:"max_event_size" json:"max_event_size"`
	MaxContentLength int    `yaml:"max_content_length" json:"max_content_length"`
	Timeout          string `yaml:"timeout" json:"timeout"`
}

// DefaultRateLimitConfig returns the relay's out-of-the-box rate
// limits.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: true,

		GlobalEventLimit: "100/s",
		GlobalReqLimit:   "100/s",
		GlobalCountLimit: "50/s",
		MaxGlobal:        1000,

		IPEventLimit: "10/s",
		IPReqLimit:   "10/s",
		IPCountLimit: "5/s",
		MaxPerIP:     10,

		MaxConnections:   1000,
		MaxEventSize:     65536,
		MaxContentLength: 65536,
		Timeout:          "5m",
	}
}

// rawRateLimitConfig mirrors both YAML shapes this config file has
// carried historically: a nested global/ip/event_object_limits
// document, and an older flat one. Both are supported; nested values
// win when both are present.
type rawRateLimitConfig struct {
	Global struct {
		EventLimit     string `yaml:"event_limit"`
		ReqLimit       string `yaml:"req_limit"`
		CountLimit     string `yaml:"count_limit"`
		MaxConnections int    `yaml:"max_connections"`
		Timeout        string `yaml:"timeout"`
	} `yaml:"global"`
	IP struct {
		EventLimit     string `yaml:"event_limit"`
		ReqLimit       string `yaml:"req_limit"`
		CountLimit     string `yaml:"count_limit"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"ip"`
	EventObjectLimits struct {
		MaxSize          int `yaml:"max_size"`
		MaxContentLength int `yaml:"max_content_length"`
	} `yaml:"event_object_limits"`

	GlobalEventLimit string `yaml:"global_event_limit"`
	GlobalReqLimit   string `yaml:"global_req_limit"`
	GlobalCountLimit string `yaml:"global_count_limit"`
	MaxGlobal        int    `yaml:"max_global"`

	IPEventLimit string `yaml:"ip_event_limit"`
	IPReqLimit   string `yaml:"ip_req_limit"`
	IPCountLimit string `yaml:"ip_count_limit"`
	MaxPerIP     int    `yaml:"max_per_ip"`

	MaxConnections   int    `yaml:"max_connections"`
	MaxEventSize     int    `yaml:"max_event_size"`
	MaxContentLength int    `yaml:"max_content_length"`
	Timeout          string `yaml:"timeout"`
}

func applyString(dst *string, values ...string) {
	for _, v := range values {
		if v != "" {
			*dst = v
			return
		}
	}
}

func applyInt(dst *int, values ...int) {
	for _, v := range values {
		if v != 0 {
			*dst = v
			return
		}
	}
}

func mergeRateLimitConfig(cfg *RateLimitConfig, raw *rawRateLimitConfig) {
	applyString(&cfg.GlobalEventLimit, raw.Global.EventLimit, raw.GlobalEventLimit)
	applyString(&cfg.GlobalReqLimit, raw.Global.ReqLimit, raw.GlobalReqLimit)
	applyString(&cfg.GlobalCountLimit, raw.Global.CountLimit, raw.GlobalCountLimit)
	applyInt(&cfg.MaxGlobal, raw.Global.MaxConnections, raw.MaxGlobal)
	applyString(&cfg.Timeout, raw.Global.Timeout, raw.Timeout)

	applyString(&cfg.IPEventLimit, raw.IP.EventLimit, raw.IPEventLimit)
	applyString(&cfg.IPReqLimit, raw.IP.ReqLimit, raw.IPReqLimit)
	applyString(&cfg.IPCountLimit, raw.IP.CountLimit, raw.IPCountLimit)
	applyInt(&cfg.MaxPerIP, raw.IP.MaxConnections, raw.MaxPerIP)

	applyInt(&cfg.MaxEventSize, raw.EventObjectLimits.MaxSize, raw.MaxEventSize)
	applyInt(&cfg.MaxContentLength, raw.EventObjectLimits.MaxContentLength, raw.MaxContentLength)
	applyInt(&cfg.MaxConnections, raw.MaxConnections)
}

// LoadRateLimitConfig reads a rate-limit configuration file, falling
// back to DefaultRateLimitConfig for any field the file doesn't set.
// A missing file is not an error: defaults are returned as-is.
func LoadRateLimitConfig(path string) (*RateLimitConfig, error) {
	cfg := DefaultRateLimitConfig()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read rate limit config %s: %w", path, err)
			}
		} else {
			var raw rawRateLimitConfig
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("failed to parse rate limit config: %w", err)
			}
			mergeRateLimitConfig(cfg, &raw)
		}
	}

	applyRateLimitEnvironmentVariables(cfg)
	return cfg, nil
}

func applyRateLimitEnvironmentVariables(cfg *RateLimitConfig) {
	applyIfSet := func(envVar string, setter func(string)) {
		if val := os.Getenv(envVar); val != "" {
			setter(val)
		}
	}
	applyIntIfSet := func(envVar string, dst *int) {
		if val := os.Getenv(envVar); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}

	applyIfSet("GLIENICKE_RATE_LIMITS_GLOBAL_EVENT", func(v string) { cfg.GlobalEventLimit = v })
	applyIfSet("GLIENICKE_RATE_LIMITS_GLOBAL_REQ", func(v string) { cfg.GlobalReqLimit = v })
	applyIfSet("GLIENICKE_RATE_LIMITS_GLOBAL_COUNT", func(v string) { cfg.GlobalCountLimit = v })
	applyIfSet("GLIENICKE_RATE_LIMITS_IP_EVENT", func(v string) { cfg.IPEventLimit = v })
	applyIfSet("GLIENICKE_RATE_LIMITS_IP_REQ", func(v string) { cfg.IPReqLimit = v })
	applyIfSet("GLIENICKE_RATE_LIMITS_IP_COUNT", func(v string) { cfg.IPCountLimit = v })
	applyIntIfSet("GLIENICKE_RATE_LIMITS_MAX_PER_IP", &cfg.MaxPerIP)
	applyIntIfSet("GLIENICKE_CONNECTION_LIMITS_MAX_GLOBAL", &cfg.MaxGlobal)
}

// ValidateRateLimitConfig rejects nonsensical connection limits.
func ValidateRateLimitConfig(cfg *RateLimitConfig) error {
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if cfg.MaxGlobal <= 0 {
		return fmt.Errorf("max global connections must be positive")
	}
	if cfg.MaxPerIP <= 0 {
		return fmt.Errorf("max per-ip connections must be positive")
	}
	return nil
}
