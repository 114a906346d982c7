package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config manages engine configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates a new configuration manager with engine defaults
func New() *Config {
	return &Config{
		values: map[string]string{
			"extract.interval":    "60s",
			"apply.interval":      "120s",
			"retention.interval":  "10m",
			"retention.max_age":   "168h",
			"retention.max_count": "0",
			"sync.include_source": "false",
			"archive.dir":         "extractions",
			"catalog.host":        "localhost",
			"catalog.port":        "5432",
			"catalog.user":        "federata",
			"catalog.password":    "federata",
			"catalog.database":    "federata",
			"catalog.sslmode":     "disable",
		},
	}
}

// envOverrides maps environment variables onto configuration keys
var envOverrides = map[string]string{
	"SERVER_ID":           "server.id",
	"FERNET_KEY":          "fernet.key",
	"EXTRACT_INTERVAL":    "extract.interval",
	"APPLY_INTERVAL":      "apply.interval",
	"ARCHIVE_DIR":         "archive.dir",
	"CATALOG_HOST":        "catalog.host",
	"CATALOG_PORT":        "catalog.port",
	"CATALOG_USER":        "catalog.user",
	"CATALOG_PASSWORD":    "catalog.password",
	"CATALOG_DATABASE":    "catalog.database",
	"LOG_FILE":            "log.file",
	"SYNC_INCLUDE_SOURCE": "sync.include_source",
}

// LoadEnvironment loads a .env file if present and applies environment overrides
func (c *Config) LoadEnvironment() {
	// Missing .env files are not an error
	_ = godotenv.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	for env, key := range envOverrides {
		if v := os.Getenv(env); v != "" {
			c.values[key] = v
		}
	}
}

// LoadFile merges a YAML configuration file into the current values.
// The file holds a flat map of dotted keys to scalar values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	flat := make(map[string]string)
	flatten("", raw, flat)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.values[k] = v
	}

	return nil
}

// flatten converts nested YAML maps into dotted keys
func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]interface{}:
			flatten(key, child, out)
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetInt retrieves a configuration value as an integer, or def when unset or malformed
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool retrieves a configuration value as a boolean
func (c *Config) GetBool(key string) bool {
	v := strings.ToLower(c.Get(key))
	return v == "true" || v == "1" || v == "yes"
}

// GetDuration retrieves a configuration value as a duration, or def when unset or malformed
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	v := c.Get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// Set stores a single configuration value
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}
