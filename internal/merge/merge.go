// Package merge applies extraction payloads to readable group databases
// through a temp-table pipeline with last-writer-wins conflict resolution.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/internal/database/dialect"
	"github.com/federata/federata/internal/payload"
	"github.com/federata/federata/pkg/encryption"
	"github.com/federata/federata/pkg/logger"
)

// ErrPayloadMismatch marks a payload whose top-level key is not the
// expected group slug
var ErrPayloadMismatch = errors.New("payload group mismatch")

// ErrApplyFailure marks an obligation that could not be applied
var ErrApplyFailure = errors.New("apply failure")

// Merger applies pending extraction payloads to member databases
type Merger struct {
	store   *catalog.Store
	broker  *broker.Broker
	secrets *encryption.SecretEncryptor
	logger  *logger.Logger
}

// NewMerger creates a merger decrypting group keys with the given secret
// encryptor
func NewMerger(store *catalog.Store, broker *broker.Broker, secrets *encryption.SecretEncryptor, logger *logger.Logger) *Merger {
	return &Merger{
		store:   store,
		broker:  broker,
		secrets: secrets,
		logger:  logger,
	}
}

// session carries one member's handle and dialect through an apply run.
// Temp tables are prepared per obligation, inside its transaction: pooled
// connections make any longer-lived temp state unreliable.
type session struct {
	handle  *broker.Handle
	dialect dialect.Dialect
}

// ApplyPending applies the pending obligations of a group database in
// extraction-time order. The queue is head-of-line: the first failing
// obligation stops the run so older payloads are never leapfrogged.
func (m *Merger) ApplyPending(ctx context.Context, gd catalog.GroupDatabase) error {
	pending, err := m.store.PendingObligations(ctx, gd.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	member, err := m.store.FindMember(ctx, gd.MemberID)
	if err != nil {
		return err
	}
	d, err := dialect.ForFamily(member.Family)
	if err != nil {
		return err
	}
	h, err := m.broker.Open(ctx, member)
	if err != nil {
		return err
	}

	sess := &session{handle: h, dialect: d}
	for _, p := range pending {
		if err := m.applyObligation(ctx, sess, member, p); err != nil {
			return fmt.Errorf("%w: extraction %s to member %s: %v", ErrApplyFailure, p.Extraction.ID, member.ID, err)
		}
		if err := m.store.MarkObligationApplied(ctx, p.Synchronization.ID, time.Now().UTC()); err != nil {
			return err
		}
		if m.logger != nil {
			m.logger.Infof("Applied extraction %s to member %s", p.Extraction.ID, member.ID)
		}
	}
	return nil
}

// applyObligation opens, verifies and decrypts one payload and applies all
// of its tables inside one member transaction
func (m *Merger) applyObligation(ctx context.Context, sess *session, member *catalog.Member, p catalog.PendingObligation) error {
	group, err := m.store.FindGroup(ctx, p.GroupID)
	if err != nil {
		return err
	}
	key, err := m.groupKey(group)
	if err != nil {
		return err
	}

	doc, err := payload.ReadArchive(p.Extraction.FilePath, p.Extraction.FileSHA256, key)
	if err != nil {
		return err
	}
	sections, ok := doc[group.Slug]
	if !ok || len(doc) != 1 {
		return fmt.Errorf("%w: expected slug %s", ErrPayloadMismatch, group.Slug)
	}

	targets, err := m.resolveTargets(ctx, member, group, sections)
	if err != nil {
		return err
	}

	tx, err := sess.handle.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range orderForUpserts(targets) {
		if err := m.applyUpserts(ctx, sess, tx, t); err != nil {
			return err
		}
	}
	for _, t := range orderForTombstones(targets) {
		if err := m.applyTombstones(ctx, sess, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit apply: %w", err)
	}
	return nil
}

// target is one physical table of the applying member together with its
// payload section and catalog metadata
type target struct {
	groupTable catalog.GroupTable
	table      catalog.Table
	columns    []catalog.Column
	pkColumns  []string
	section    payload.TableSection
}

// resolveTargets maps payload sections onto the member's physical tables.
// Unknown group-table names are skipped with a warning; group tables the
// member has no mapping for are skipped silently.
func (m *Merger) resolveTargets(ctx context.Context, member *catalog.Member, group *catalog.Group, sections map[string]payload.TableSection) ([]target, error) {
	groupTables, err := m.store.ListGroupTables(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]catalog.GroupTable, len(groupTables))
	for _, gt := range groupTables {
		byName[strings.ToLower(gt.Name)] = gt
	}

	var targets []target
	for name, section := range sections {
		gt, ok := byName[strings.ToLower(name)]
		if !ok {
			if m.logger != nil {
				m.logger.Warnf("Payload names unknown group table %s in group %s, skipping", name, group.Slug)
			}
			continue
		}

		mapped, err := m.store.MappedTableForMember(ctx, gt.ID, member.ID)
		if err != nil {
			return nil, err
		}
		if mapped == nil {
			continue
		}

		columns, err := m.store.ListColumns(ctx, mapped.Table.ID)
		if err != nil {
			return nil, err
		}
		pkColumns, err := m.store.ListPKColumns(ctx, mapped.Table.ID)
		if err != nil {
			return nil, err
		}

		targets = append(targets, target{
			groupTable: gt,
			table:      mapped.Table,
			columns:    columns,
			pkColumns:  pkColumns,
			section:    section,
		})
	}
	return targets, nil
}

// groupKey decrypts and parses the group's payload key
func (m *Merger) groupKey(group *catalog.Group) (encryption.Key, error) {
	encoded, err := m.secrets.DecryptSecret(group.DataKey)
	if err != nil {
		return encryption.Key{}, fmt.Errorf("failed to decrypt group key: %w", err)
	}
	key, err := encryption.ParseKey(encoded)
	if err != nil {
		return encryption.Key{}, fmt.Errorf("failed to parse group key: %w", err)
	}
	return key, nil
}

// orderForUpserts sorts targets parents-first so foreign keys see their
// referenced rows before the referencing ones
func orderForUpserts(targets []target) []target {
	ordered := make([]target, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].table.Level < ordered[j].table.Level })
	return ordered
}

// orderForTombstones sorts targets children-first so deletes never orphan a
// referencing row
func orderForTombstones(targets []target) []target {
	ordered := make([]target, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].table.Level > ordered[j].table.Level })
	return ordered
}

func columnNames(columns []catalog.Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

func payloadKeys(rows []common.Row) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, row := range rows {
		for k := range row {
			if !seen[strings.ToLower(k)] {
				seen[strings.ToLower(k)] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// rowValue looks a column up in a payload row case-insensitively
func rowValue(row common.Row, column string) interface{} {
	if v, ok := row[column]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v
		}
	}
	return nil
}
