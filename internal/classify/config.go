// internal/classify/config.go
package classify

import (
	"time"

	"civiclens/internal/common/config"
)

type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	DefaultModel string
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		BaseURL:      cfg.APIs.GenAI.BaseURL,
		APIKey:       cfg.APIs.GenAI.APIKey,
		Timeout:      time.Duration(cfg.APIs.GenAI.Timeout) * time.Millisecond,
		DefaultModel: cfg.APIs.GenAI.DefaultModel,
	}
}
