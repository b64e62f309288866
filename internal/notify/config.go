// internal/notify/config.go
package notify

import (
	"time"

	"civiclens/internal/common/config"
)

type Config struct {
	EmailEnabled           bool
	PushEnabled            bool
	FromEmail              string
	AWSRegion              string
	PlatformApplicationARN string
	Timeout                time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		EmailEnabled:           cfg.Notifications.Email.Enabled,
		PushEnabled:            cfg.Notifications.Push.Enabled,
		FromEmail:              cfg.Notifications.Email.FromEmail,
		AWSRegion:              cfg.Integrations.AWS.Region,
		PlatformApplicationARN: cfg.Integrations.AWS.SNS.PlatformApplicationARN,
		Timeout:                30 * time.Second,
	}
}
