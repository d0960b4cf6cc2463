package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/systemshift/topicgraph/internal/server/graph"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Storage
	Backend    string
	SQLitePath string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Type description files imported after the core types
	TypeFiles []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("TOPICGRAPH_ENV", "development"),
		LogLevel:      getEnv("TOPICGRAPH_LOG_LEVEL", ""),
		Backend:       getEnv("TOPICGRAPH_BACKEND", graph.BackendSQLite),
		SQLitePath:    getEnv("TOPICGRAPH_SQLITE_PATH", "topicgraph.db"),
		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", "neo4j"),
		TypeFiles:     splitList(getEnv("TOPICGRAPH_TYPES", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.Backend {
	case graph.BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("TOPICGRAPH_SQLITE_PATH is required for the sqlite backend")
		}
	case graph.BackendNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j backend")
		}
	default:
		return fmt.Errorf("unknown TOPICGRAPH_BACKEND %q", c.Backend)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid TOPICGRAPH_LOG_LEVEL: %w", err)
		}
	}
	return nil
}

// GraphOptions returns the substrate options this configuration selects.
func (c *Config) GraphOptions() graph.Options {
	return graph.Options{
		Backend:    c.Backend,
		SQLitePath: c.SQLitePath,
		Neo4j: graph.Config{
			URI:      c.Neo4jURI,
			Username: c.Neo4jUser,
			Password: c.Neo4jPassword,
			Database: c.Neo4jDatabase,
		},
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
