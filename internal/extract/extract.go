// Package extract produces delta snapshot payloads: rows and tombstones
// changed since a source's watermark, sealed under the group key and fanned
// out as synchronization obligations.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/dialect"
	"github.com/federata/federata/internal/payload"
	"github.com/federata/federata/pkg/encryption"
	"github.com/federata/federata/pkg/logger"
)

// ErrExtractFailure marks a failed extraction run
var ErrExtractFailure = errors.New("extract failure")

// Extractor reads changed rows out of writable group databases into
// encrypted payload archives
type Extractor struct {
	store         *catalog.Store
	broker        *broker.Broker
	secrets       *encryption.SecretEncryptor
	archiveDir    string
	includeSource bool
	logger        *logger.Logger
}

// NewExtractor creates an extractor archiving payloads under archiveDir.
// When includeSource is set, the producing group database receives an
// obligation for its own extraction.
func NewExtractor(store *catalog.Store, broker *broker.Broker, secrets *encryption.SecretEncryptor, archiveDir string, includeSource bool, logger *logger.Logger) *Extractor {
	return &Extractor{
		store:         store,
		broker:        broker,
		secrets:       secrets,
		archiveDir:    archiveDir,
		includeSource: includeSource,
		logger:        logger,
	}
}

// Extract produces one delta snapshot for a writable group database. The
// watermark is the time_made of the source's previous extraction; with no
// prior extraction the snapshot is full. An empty delta writes no file and
// creates no obligations, returning (nil, nil).
func (e *Extractor) Extract(ctx context.Context, gd catalog.GroupDatabase) (*catalog.GroupExtraction, error) {
	group, err := e.store.FindGroup(ctx, gd.GroupID)
	if err != nil {
		return nil, err
	}
	member, err := e.store.FindMember(ctx, gd.MemberID)
	if err != nil {
		return nil, err
	}
	d, err := dialect.ForFamily(member.Family)
	if err != nil {
		return nil, err
	}

	h, err := e.broker.Open(ctx, member)
	if err != nil {
		return nil, err
	}

	watermark, err := e.store.LatestExtractionTime(ctx, gd.ID)
	if err != nil {
		return nil, err
	}
	timeMade := time.Now().UTC()

	groupTables, err := e.store.ListGroupTables(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	sections := make(map[string]payload.TableSection, len(groupTables))
	for _, gt := range groupTables {
		mapped, err := e.store.MappedTableForMember(ctx, gt.ID, member.ID)
		if err != nil {
			return nil, err
		}
		if mapped == nil {
			continue
		}

		section, err := e.extractTable(ctx, h, d, gt, mapped, watermark)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", ErrExtractFailure, gt.Name, err)
		}
		sections[gt.Name] = section
	}

	doc := payload.Document{group.Slug: sections}
	if doc.Empty() {
		if e.logger != nil {
			e.logger.Debugf("No changes to extract for group %s from member %s", group.Slug, member.ID)
		}
		return nil, nil
	}

	key, err := e.groupKey(group)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s_%s_%s", group.Slug, timeMade.Format("20060102150405"), uuid.NewString())
	info, err := payload.WriteArchive(e.archiveDir, name, doc, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractFailure, err)
	}

	endTime := time.Now().UTC()
	ext, err := e.store.RecordExtraction(ctx, catalog.GroupExtraction{
		GroupID:         group.ID,
		GroupDatabaseID: gd.ID,
		TimeMade:        timeMade,
		StartTime:       watermark,
		EndTime:         &endTime,
		FilePath:        info.Path,
		FileSize:        info.Size,
		FileSHA256:      info.SHA256,
	})
	if err != nil {
		return nil, err
	}

	targets, err := e.store.ListReadableGroupDatabases(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	var targetIDs []string
	for _, target := range targets {
		if target.ID == gd.ID && !e.includeSource {
			continue
		}
		targetIDs = append(targetIDs, target.ID)
	}
	if err := e.store.RecordObligations(ctx, ext.ID, targetIDs); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Infof("Extracted %s (%d bytes) for group %s from member %s, %d obligations",
			info.Path, info.Size, group.Slug, member.ID, len(targetIDs))
	}
	return ext, nil
}

// extractTable reads one group-table's changed rows and tombstones from its
// mapped physical table
func (e *Extractor) extractTable(ctx context.Context, h *broker.Handle, d dialect.Dialect, gt catalog.GroupTable, mapped *catalog.MappedTable, watermark *time.Time) (payload.TableSection, error) {
	var section payload.TableSection

	mappedCols, err := e.store.MappedColumnsForTable(ctx, gt.ID, mapped.Table.ID)
	if err != nil {
		return section, err
	}
	allCols, err := e.store.ListColumns(ctx, mapped.Table.ID)
	if err != nil {
		return section, err
	}

	selectCols, types := selectionColumns(mappedCols, allCols)
	if len(selectCols) == 0 {
		return section, nil
	}

	rows, err := e.readRows(ctx, h, d, mapped.Table.SchemaName, mapped.Table.Name, selectCols, "last_updated", hasColumn(allCols, "last_updated"), watermark)
	if err != nil {
		return section, err
	}
	section.Rows = encodeRows(rows, types)

	if mapped.Table.DeletionTableID != nil {
		tombstone, err := e.store.FindTable(ctx, *mapped.Table.DeletionTableID)
		if err != nil {
			return section, err
		}
		tombstoneCols, err := e.store.ListColumns(ctx, tombstone.ID)
		if err != nil {
			return section, err
		}

		names := make([]string, 0, len(tombstoneCols))
		tombstoneTypes := make(map[string]string, len(tombstoneCols))
		for _, c := range tombstoneCols {
			names = append(names, c.Name)
			tombstoneTypes[c.Name] = c.DataType
		}

		deleted, err := e.readRows(ctx, h, d, tombstone.SchemaName, tombstone.Name, names, "deletion_time", hasColumn(tombstoneCols, "deletion_time"), watermark)
		if err != nil {
			return section, err
		}
		section.DeletedRows = encodeRows(deleted, tombstoneTypes)
	}

	return section, nil
}

// readRows selects the named columns, constrained to the watermark when one
// exists and the table carries the filter column
func (e *Extractor) readRows(ctx context.Context, h *broker.Handle, d dialect.Dialect, schema, table string, columns []string, filterColumn string, hasFilter bool, watermark *time.Time) ([]map[string]interface{}, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
	}

	var query strings.Builder
	fmt.Fprintf(&query, "SELECT %s FROM %s", strings.Join(quoted, ", "), d.QualifyTable(schema, table))

	var args []interface{}
	if watermark != nil && hasFilter {
		fmt.Fprintf(&query, " WHERE %s >= %s", d.QuoteIdentifier(filterColumn), d.Placeholder(1))
		args = append(args, *watermark)
	}

	return h.Query(ctx, query.String(), args...)
}

// groupKey decrypts and parses the group's payload key
func (e *Extractor) groupKey(group *catalog.Group) (encryption.Key, error) {
	encoded, err := e.secrets.DecryptSecret(group.DataKey)
	if err != nil {
		return encryption.Key{}, fmt.Errorf("failed to decrypt group key: %w", err)
	}
	key, err := encryption.ParseKey(encoded)
	if err != nil {
		return encryption.Key{}, fmt.Errorf("failed to parse group key: %w", err)
	}
	return key, nil
}

// selectionColumns is the mapped column set widened with the tracking and
// last-writer columns targets need for matching and conflict resolution
func selectionColumns(mapped []catalog.MappedColumn, all []catalog.Column) ([]string, map[string]string) {
	var names []string
	types := make(map[string]string, len(mapped)+2)
	seen := make(map[string]bool, len(mapped)+2)
	for _, mc := range mapped {
		if seen[strings.ToLower(mc.Column.Name)] {
			continue
		}
		seen[strings.ToLower(mc.Column.Name)] = true
		names = append(names, mc.Column.Name)
		types[mc.Column.Name] = mc.Column.DataType
	}
	for _, c := range all {
		name := strings.ToLower(c.Name)
		if name != "tracking_id" && name != "last_updated" {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, c.Name)
		types[c.Name] = c.DataType
	}
	return names, types
}

func hasColumn(columns []catalog.Column, name string) bool {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func encodeRows(rows []map[string]interface{}, types map[string]string) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = payload.EncodeRow(row, types)
	}
	return out
}
