package config

import (
	"fmt"
	"time"
)

// Collection names used by the vector store. Versioned so a dimension or
// schema change can roll out beside the old data.
const (
	CollectionChunks  = "requirements_v2"
	CollectionKGNodes = "kg_nodes_v1"
	CollectionKGEdges = "kg_edges_v1"
	CollectionTraces  = "arch_trace"
)

// QdrantConfig controls the vector store client.
type QdrantConfig struct {
	// URL is the Qdrant base URL without port, e.g. "http://localhost".
	URL string

	// Port is the Qdrant HTTP port.
	Port int

	// APIKey is sent as api-key header when non-empty.
	APIKey string

	// Timeout bounds a single vector store call.
	Timeout time.Duration

	// MaxIdleConns sizes the HTTP connection pool. Sized at startup to
	// validation permits + rewrite permits + 2.
	MaxIdleConns int
}

// DefaultQdrantConfig returns the built-in vector store defaults.
func DefaultQdrantConfig() *QdrantConfig {
	return &QdrantConfig{
		URL:          "http://localhost",
		Port:         6333,
		Timeout:      15 * time.Second,
		MaxIdleConns: 10,
	}
}

// BaseURL joins URL and Port into the full endpoint.
func (c *QdrantConfig) BaseURL() string {
	return fmt.Sprintf("%s:%d", c.URL, c.Port)
}

func (c *QdrantConfig) loadEnv() {
	c.URL = getEnv("QDRANT_URL", c.URL)
	c.Port = getEnvInt("QDRANT_PORT", c.Port)
	c.APIKey = getEnv("QDRANT_API_KEY", c.APIKey)
}
