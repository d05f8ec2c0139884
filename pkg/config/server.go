package config

import "time"

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host is the bind address.
	Host string

	// Port is the listen port.
	Port int

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps a single multipart upload request.
	MaxUploadBytes int64
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  32 << 20,
	}
}

func (c *ServerConfig) loadEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvInt("PORT", c.Port)
}
