package commstats

import (
	"database/sql"
	"fmt"
)

// SQLiteReader reads statistics back out of a recorder's database.
type SQLiteReader struct {
	*sql.DB

	dbName string
}

// NewSQLiteReader opens the database written by the recorder with the
// same path.
func NewSQLiteReader(path string) *SQLiteReader {
	db, err := sql.Open("sqlite3", path+".sqlite3")
	if err != nil {
		panic(err)
	}

	return &SQLiteReader{DB: db, dbName: path}
}

// ListTables returns the names of the tables in the database.
func (r *SQLiteReader) ListTables() []string {
	rows, err := r.Query(
		"SELECT name FROM sqlite_master WHERE type='table' ORDER BY name;")
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			panic(err)
		}
		names = append(names, name)
	}

	return names
}

// CountRows returns the number of rows in a table.
func (r *SQLiteReader) CountRows(tableName string) int {
	var n int
	err := r.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s;", tableName)).Scan(&n)
	if err != nil {
		panic(err)
	}

	return n
}
