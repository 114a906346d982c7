package catalog

import "time"

// Member represents a member database of the federation. Host, port,
// username and password are stored encrypted under the process key.
type Member struct {
	ID                           string
	Family                       string
	Host                         string
	Port                         string
	DatabaseName                 string
	Username                     string
	Password                     string
	ProvidesSuccessfulConnection bool
	IsInitialized                bool
	Created                      time.Time
	Updated                      time.Time
}

// Schema mirrors one schema of a member database
type Schema struct {
	ID       string
	MemberID string
	Name     string
}

// Table mirrors one table of a member database. Level is the topological
// depth over non-self foreign-key edges; DeletionTableID links the table to
// its tombstone counterpart.
type Table struct {
	ID              string
	SchemaID        string
	MemberID        string
	SchemaName      string
	Name            string
	Level           int
	DeletionTableID *string
}

// Column mirrors one column of a member table
type Column struct {
	ID                string
	TableID           string
	Name              string
	DataType          string
	MaxLength         *int
	DatetimePrecision *int
	NumericPrecision  *int
	Nullable          bool
}

// ColumnConstraint is a primary-key or foreign-key marker on a column. For
// foreign keys, ReferencesColumnID points at the parent column and
// ReferencesTrackingIDColumnID at the sibling tracking column recorded by the
// instrumenter.
type ColumnConstraint struct {
	ID                           string
	ColumnID                     string
	Name                         string
	IsPrimaryKey                 bool
	IsForeignKey                 bool
	ReferencesColumnID           *string
	ReferencesTrackingIDColumnID *string
}

// Group is a named federation sharing a logical schema. The data key is the
// group's symmetric payload key, stored encrypted under the process key.
type Group struct {
	ID      string
	Name    string
	Slug    string
	DataKey string
}

// GroupTable is one table of a group's logical schema
type GroupTable struct {
	ID      string
	GroupID string
	Name    string
}

// GroupColumn is one column of a group-table
type GroupColumn struct {
	ID           string
	GroupTableID string
	Name         string
}

// GroupColumnColumn maps a logical group-column onto a physical column
type GroupColumnColumn struct {
	ID            string
	GroupColumnID string
	ColumnID      string
}

// GroupTableTable maps a logical group-table onto a physical table
type GroupTableTable struct {
	ID           string
	GroupTableID string
	TableID      string
}

// GroupDatabase is a member's membership in a group
type GroupDatabase struct {
	ID       string
	GroupID  string
	MemberID string
	CanWrite bool
	CanRead  bool
}

// GroupExtraction is one produced payload
type GroupExtraction struct {
	ID              string
	GroupID         string
	GroupDatabaseID string
	TimeMade        time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	FilePath        string
	FileSize        int64
	FileSHA256      string
}

// GroupDatabaseSynchronization is the obligation to apply one extraction to
// one readable group database
type GroupDatabaseSynchronization struct {
	ID              string
	ExtractionID    string
	GroupDatabaseID string
	IsApplied       bool
	TimeApplied     *time.Time
}

// PendingObligation joins a synchronization with its extraction for the
// apply pipeline, ordered by extraction time
type PendingObligation struct {
	Synchronization GroupDatabaseSynchronization
	Extraction      GroupExtraction
	GroupID         string
	GroupSlug       string
}
