// Package recording persists simulation output into a SQLite database so an
// external visualization pipeline can read the run back after the process
// exits.
package recording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Writer batches row inserts into a SQLite database. Table schemas are
// derived from sample struct entries, one column per exported scalar field.
type Writer struct {
	*sql.DB

	dbName    string
	tables    map[string]*table
	batchSize int
	pending   int
}

type table struct {
	structType reflect.Type
	entries    []any
}

// NewWriter opens (creating) the database at path. An empty path picks a
// unique name. The writer flushes its buffers on process exit.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		path = "cachescope_" + xid.New().String()
	}

	filename := path
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("recording: file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", filename, err)
	}

	fmt.Fprintf(os.Stderr, "recording run to %s\n", filename)

	w := newWriterWithDB(db)
	w.dbName = filename

	return w, nil
}

// NewWriterWithDB wraps an already opened database.
func NewWriterWithDB(db *sql.DB) *Writer {
	return newWriterWithDB(db)
}

func newWriterWithDB(db *sql.DB) *Writer {
	w := &Writer{
		DB:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// CreateTable creates a table whose columns are sampleEntry's fields. Fields
// must be scalars; nested structs, slices, and maps are rejected.
func (w *Writer) CreateTable(tableName string, sampleEntry any) {
	mustBeFlatStruct(sampleEntry)

	names := structs.Names(sampleEntry)
	fields := strings.Join(names, ", \n\t")

	w.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`)

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}
}

// InsertData buffers one row for a table created earlier. The buffer is
// written out once enough rows accumulate.
func (w *Writer) InsertData(tableName string, entry any) {
	tbl, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("recording: table %s does not exist", tableName))
	}

	tbl.entries = append(tbl.entries, entry)

	w.pending++
	if w.pending >= w.batchSize {
		w.Flush()
	}
}

// ListTables returns the names of all created tables.
func (w *Writer) ListTables() []string {
	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}

	return tables
}

// Flush writes all buffered rows in one transaction.
func (w *Writer) Flush() {
	if w.pending == 0 {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for name, tbl := range w.tables {
		if len(tbl.entries) == 0 {
			continue
		}

		stmt := w.prepareInsert(name, tbl.entries[0])

		for _, entry := range tbl.entries {
			v := []any{}

			fields := reflect.ValueOf(entry)
			for i := 0; i < fields.NumField(); i++ {
				v = append(v, fields.Field(i).Interface())
			}

			if _, err := stmt.Exec(v...); err != nil {
				panic(err)
			}
		}

		tbl.entries = nil
		stmt.Close()
	}

	w.pending = 0
}

// Close flushes and closes the database.
func (w *Writer) Close() error {
	w.Flush()
	return w.DB.Close()
}

func (w *Writer) prepareInsert(tableName string, entry any) *sql.Stmt {
	marks := structs.Names(entry)
	for i := range marks {
		marks[i] = "?"
	}

	stmt, err := w.Prepare(
		"INSERT INTO " + tableName + " VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}

func (w *Writer) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func mustBeFlatStruct(entry any) {
	t := reflect.TypeOf(entry)

	for i := 0; i < t.NumField(); i++ {
		if !isAllowedKind(t.Field(i).Type.Kind()) {
			panic(fmt.Sprintf(
				"recording: field %s of %s is not a scalar", t.Field(i).Name, t.Name()))
		}
	}
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}
