package common

// Database family tags for federation members
const (
	FamilyPostgres  = "postgres"
	FamilySQLServer = "sqlserver"
)

// MemberConfig holds the decrypted connection details for a member database
type MemberConfig struct {
	MemberID     string `json:"memberId"`
	Family       string `json:"family"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	DatabaseName string `json:"databaseName"`
	SSL          bool   `json:"ssl,omitempty"`
	SSLMode      string `json:"sslMode,omitempty"`
}

// Row is the uniform row shape shuttled between member databases and payloads
type Row = map[string]interface{}

// ColumnMetadata describes one column of a member table as read from
// information_schema
type ColumnMetadata struct {
	Name              string
	DataType          string
	MaxLength         *int
	DatetimePrecision *int
	NumericPrecision  *int
	Nullable          bool
	IsPrimaryKey      bool
	IsForeignKey      bool
}

// ForeignKeyEdge describes one foreign-key reference between member tables
type ForeignKeyEdge struct {
	ConstraintName string
	ChildSchema    string
	ChildTable     string
	ChildColumn    string
	ParentSchema   string
	ParentTable    string
	ParentColumn   string
}
