package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/federata/federata/internal/database/common"
)

// Connect establishes a connection pool to a PostgreSQL member database.
// The config must already carry decrypted credentials.
func Connect(ctx context.Context, config common.MemberConfig) (*pgxpool.Pool, error) {
	var connString strings.Builder

	// Build base connection string
	fmt.Fprintf(&connString, "postgres://%s:%s@%s:%d/%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.DatabaseName)

	// Add SSL configuration
	if config.SSL {
		sslMode := config.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		fmt.Fprintf(&connString, "?sslmode=%s", sslMode)
	} else {
		connString.WriteString("?sslmode=disable")
	}

	// Create connection pool
	pool, err := pgxpool.New(ctx, connString.String())
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %v", err)
	}

	return pool, nil
}
