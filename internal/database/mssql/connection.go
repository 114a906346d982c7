package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/federata/federata/internal/database/common"
)

// Connect establishes a connection to a Microsoft SQL Server member database.
// The config must already carry decrypted credentials.
func Connect(ctx context.Context, config common.MemberConfig) (*sql.DB, error) {
	var connString strings.Builder

	// Build base connection string
	fmt.Fprintf(&connString, "server=%s;port=%d;database=%s;user id=%s;password=%s",
		config.Host,
		config.Port,
		config.DatabaseName,
		config.Username,
		config.Password)

	// Add SSL configuration
	if config.SSL {
		connString.WriteString(";encrypt=true;trustservercertificate=true")
	} else {
		connString.WriteString(";encrypt=false")
	}

	// Create connection
	db, err := sql.Open("sqlserver", connString.String())
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %v", err)
	}

	return db, nil
}
