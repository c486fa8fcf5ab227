package config

import (
	"fmt"
	"time"
)

type UpstreamsConfig struct {
	AuthService      UpstreamConfig `yaml:"auth_service"`
	InferenceBackend UpstreamConfig `yaml:"inference_backend"`
	Frontend         UpstreamConfig `yaml:"frontend"`
}

type UpstreamConfig struct {
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

func (u *UpstreamsConfig) Validate() error {
	for name, up := range map[string]UpstreamConfig{
		"auth_service":      u.AuthService,
		"inference_backend": u.InferenceBackend,
		"frontend":          u.Frontend,
	} {
		if up.BaseURL == "" {
			return fmt.Errorf("upstream %s: base_url is required", name)
		}
	}
	return nil
}

func (u *UpstreamsConfig) applyDefaults() {
	for _, up := range []*UpstreamConfig{&u.AuthService, &u.InferenceBackend, &u.Frontend} {
		if up.Timeout == 0 {
			up.Timeout = 30 * time.Second
		}
		if up.MaxConcurrent == 0 {
			up.MaxConcurrent = 32
		}
	}
}
