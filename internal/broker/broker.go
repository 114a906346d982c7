// Package broker opens and caches connections to member databases, hiding
// the driver split between PostgreSQL (pgx pools) and SQL Server
// (database/sql) behind one handle type.
package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/internal/database/mssql"
	"github.com/federata/federata/internal/database/postgres"
	"github.com/federata/federata/pkg/encryption"
	"github.com/federata/federata/pkg/logger"
)

// ErrConnectionFailure marks errors raised while reaching a member database,
// as opposed to errors raised by statements against it
var ErrConnectionFailure = errors.New("member connection failure")

// Broker resolves catalog members into live database handles. Handles are
// cached per member until Close or Invalidate.
type Broker struct {
	secrets *encryption.SecretEncryptor
	logger  *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewBroker creates a broker decrypting member credentials with the given
// secret encryptor
func NewBroker(secrets *encryption.SecretEncryptor, logger *logger.Logger) *Broker {
	return &Broker{
		secrets: secrets,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Handle is one live connection to a member database. Exactly one of pool
// and db is set, matching the member's family.
type Handle struct {
	memberID string
	family   string
	pool     *pgxpool.Pool
	db       *sql.DB
}

// MemberID returns the catalog id of the member this handle reaches
func (h *Handle) MemberID() string { return h.memberID }

// Family returns the member's database family
func (h *Handle) Family() string { return h.family }

// Open returns a live handle for a member, reusing a cached one when
// present. Errors from this path wrap ErrConnectionFailure.
func (b *Broker) Open(ctx context.Context, member *catalog.Member) (*Handle, error) {
	b.mu.Lock()
	if h, ok := b.handles[member.ID]; ok {
		b.mu.Unlock()
		return h, nil
	}
	b.mu.Unlock()

	cfg, err := b.memberConfig(member)
	if err != nil {
		return nil, err
	}

	h := &Handle{memberID: member.ID, family: member.Family}
	switch member.Family {
	case common.FamilyPostgres:
		pool, err := postgres.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
		}
		h.pool = pool
	case common.FamilySQLServer:
		db, err := mssql.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
		}
		h.db = db
	default:
		return nil, fmt.Errorf("unknown database family: %s", member.Family)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.handles[member.ID]; ok {
		h.close()
		return existing, nil
	}
	b.handles[member.ID] = h

	if b.logger != nil {
		b.logger.Infof("Connected to member %s (%s at %s)", member.ID, member.Family, cfg.Host)
	}
	return h, nil
}

// Invalidate drops the cached handle of a member, closing it. The next
// Open reconnects from scratch.
func (b *Broker) Invalidate(memberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handles[memberID]; ok {
		h.close()
		delete(b.handles, memberID)
	}
}

// Close releases every cached handle
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, h := range b.handles {
		h.close()
		delete(b.handles, id)
	}
}

// memberConfig decrypts a catalog member's connection details
func (b *Broker) memberConfig(member *catalog.Member) (common.MemberConfig, error) {
	host, err := b.secrets.DecryptSecret(member.Host)
	if err != nil {
		return common.MemberConfig{}, fmt.Errorf("failed to decrypt member host: %w", err)
	}
	portText, err := b.secrets.DecryptSecret(member.Port)
	if err != nil {
		return common.MemberConfig{}, fmt.Errorf("failed to decrypt member port: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return common.MemberConfig{}, fmt.Errorf("invalid member port %q: %w", portText, err)
	}
	username, err := b.secrets.DecryptSecret(member.Username)
	if err != nil {
		return common.MemberConfig{}, fmt.Errorf("failed to decrypt member username: %w", err)
	}
	password, err := b.secrets.DecryptSecret(member.Password)
	if err != nil {
		return common.MemberConfig{}, fmt.Errorf("failed to decrypt member password: %w", err)
	}

	return common.MemberConfig{
		MemberID:     member.ID,
		Family:       member.Family,
		Host:         host,
		Port:         port,
		Username:     username,
		Password:     password,
		DatabaseName: member.DatabaseName,
	}, nil
}

func (h *Handle) close() {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.db != nil {
		h.db.Close()
	}
}
