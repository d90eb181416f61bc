// Package commstats records communication statistics into a SQLite
// database. The comm layer inserts one row per collective flush; the
// recorder batches rows in memory and writes them out in transactions.
package commstats

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/structs"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	// Statistics are stored through SQLite connections.
	_ "github.com/mattn/go-sqlite3"
)

// A Recorder is a backend that can record and store statistic entries.
type Recorder interface {
	// CreateTable creates a new table shaped after the sample entry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers one entry of the table's type for writing.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries to the database.
	Flush()
}

// SQLiteRecorder writes statistics into a SQLite database file. It is
// safe for concurrent use by multiple endpoints.
type SQLiteRecorder struct {
	*sql.DB

	mu        sync.Mutex
	dbName    string
	batchSize int
	tables    map[string]*table
}

type table struct {
	structType reflect.Type
	columns    []string
	entries    []any
}

// NewSQLiteRecorder creates a recorder backed by path + ".sqlite3". An
// empty path picks a unique default name. The file must not already
// exist. Buffered entries are flushed at process exit.
func NewSQLiteRecorder(path string) *SQLiteRecorder {
	r := &SQLiteRecorder{
		dbName:    path,
		batchSize: 4096,
		tables:    make(map[string]*table),
	}

	r.init()

	atexit.Register(func() { r.Flush() })

	return r
}

func (r *SQLiteRecorder) init() {
	if r.dbName == "" {
		r.dbName = "ferry_stats_" + xid.New().String()
	}

	filename := r.dbName + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("statistics database %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Recording communication statistics in: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	r.DB = db
}

func sqliteType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

// CreateTable creates a table whose columns mirror the sample entry's
// fields. Only flat structs of integers, floats, and strings are
// supported; anything else panics.
func (r *SQLiteRecorder) CreateTable(tableName string, sampleEntry any) {
	structType := reflect.TypeOf(sampleEntry)

	columns := make([]string, 0, structType.NumField())
	defs := make([]string, 0, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		colType, ok := sqliteType(field.Type.Kind())
		if !ok {
			panic(fmt.Errorf("field %s of %s cannot be recorded",
				field.Name, structType.Name()))
		}
		columns = append(columns, field.Name)
		defs = append(defs, field.Name+" "+colType)
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s);",
		tableName, strings.Join(defs, ", "))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[tableName]; exists {
		panic(fmt.Errorf("table %s already created", tableName))
	}

	if _, err := r.Exec(stmt); err != nil {
		panic(err)
	}

	r.tables[tableName] = &table{
		structType: structType,
		columns:    columns,
	}
}

// InsertData buffers one entry. The entry's type must match the type
// the table was created with.
func (r *SQLiteRecorder) InsertData(tableName string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[tableName]
	if !ok {
		panic(fmt.Errorf("table %s has not been created", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Errorf("entry type %T does not match table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)
	if len(t.entries) >= r.batchSize {
		r.flushTableLocked(tableName, t)
	}
}

// ListTables returns the created table names in sorted order.
func (r *SQLiteRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Flush writes all buffered entries out.
func (r *SQLiteRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, t := range r.tables {
		r.flushTableLocked(name, t)
	}
}

func (r *SQLiteRecorder) flushTableLocked(tableName string, t *table) {
	if len(t.entries) == 0 {
		return
	}

	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", len(t.columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		tableName, strings.Join(t.columns, ", "), placeholders)

	tx, err := r.Begin()
	if err != nil {
		panic(err)
	}

	prepared, err := tx.Prepare(stmt)
	if err != nil {
		panic(err)
	}

	for _, entry := range t.entries {
		if _, err := prepared.Exec(structs.Values(entry)...); err != nil {
			panic(err)
		}
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	t.entries = t.entries[:0]
}

// Close flushes buffered entries and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.Flush()
	return r.DB.Close()
}
