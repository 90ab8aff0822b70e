package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conveyor-io/conveyor/internal/config"
)

const defaultAlertTopic = "conveyor.alerts"

// ErrTopicEmpty is returned when brokers are configured without a topic.
var ErrTopicEmpty = errors.New("kafka alert topic is empty")

// Config holds the alert forwarding settings loaded from environment
// variables. Forwarding is optional: without brokers the pipeline degrades to
// log-and-file alerts only.
type Config struct {
	Brokers []string
	Topic   string
}

// LoadConfig loads notification configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("KAFKA_ALERT_TOPIC", defaultAlertTopic),
	}
}

// Enabled reports whether alert forwarding is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks if the notification configuration is valid. A disabled
// configuration is always valid.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("%w: brokers configured as %v", ErrTopicEmpty, c.Brokers)
	}

	return nil
}
