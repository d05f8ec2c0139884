package config

import "time"

// WebhookConfig controls the optional downstream DTO forwarder.
type WebhookConfig struct {
	// Endpoint is the URL each mined requirement DTO is POSTed to.
	// Empty disables forwarding. Delivery is fire-and-forget.
	Endpoint string

	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}

// DefaultWebhookConfig returns the built-in webhook defaults.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Timeout: 5 * time.Second,
	}
}

func (c *WebhookConfig) loadEnv() {
	c.Endpoint = getEnv("REQ_WORKER_ENDPOINT", c.Endpoint)
}
