package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/federata/federata/pkg/config"
)

// PostgreSQL represents the catalog database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
}

type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	// Validate required configuration
	if cfg.Database == "" {
		return nil, fmt.Errorf("catalog database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("catalog database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("catalog database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	// Set SSL mode through TLS config
	switch cfg.SSLMode {
	case "disable":
		poolConfig.ConnConfig.TLSConfig = nil
	case "require", "prefer":
		// pgx handles the TLS negotiation automatically for these modes
	default:
		// For other SSL modes, use default behavior
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	// Create the connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// FromConfig creates a PostgreSQL config from the engine configuration
func FromConfig(cfg *config.Config) PostgreSQLConfig {
	return PostgreSQLConfig{
		User:              cfg.Get("catalog.user"),
		Password:          cfg.Get("catalog.password"),
		Host:              cfg.Get("catalog.host"),
		Port:              cfg.GetInt("catalog.port", 5432),
		Database:          cfg.Get("catalog.database"),
		SSLMode:           cfg.Get("catalog.sslmode"),
		MaxConnections:    int32(cfg.GetInt("catalog.max_connections", 20)),
		ConnectionTimeout: cfg.GetDuration("catalog.connect_timeout", 5*time.Second),
	}
}

// Pool returns the underlying connection pool
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
