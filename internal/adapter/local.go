package adapter

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/entitystore/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial records table
const currentSchemaVersion = 1

// Local is the embedded durable fallback. Each resource key owns an ordered
// snapshot of rows that survives restarts.
type Local struct {
	db        *sql.DB
	ids       record.IDGenerator
	validator Validator
}

// LocalOption configures a Local adapter.
type LocalOption func(*Local)

// WithValidator validates every created or updated record.
func WithValidator(v Validator) LocalOption {
	return func(l *Local) {
		l.validator = v
	}
}

// WithIDGenerator sets the generator used when a created record has no id.
// Default: record.UUIDv7Generator.
func WithIDGenerator(g record.IDGenerator) LocalOption {
	return func(l *Local) {
		l.ids = g
	}
}

// OpenLocal creates or opens the SQLite database at path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func OpenLocal(path string, opts ...LocalOption) (*Local, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Local{db: db, ids: record.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Local) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// List returns the stored snapshot of resource in insertion order.
// Returns an empty slice (not nil) for unknown resources.
func (l *Local) List(ctx context.Context, resource string) ([]record.Record, error) {
	if err := record.CheckResource(resource); err != nil {
		return nil, NewValidationError(resource, record.ID{}, "invalid resource key", err)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, id_numeric, body
		FROM records
		WHERE resource = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, resource)
	if err != nil {
		return nil, l.unavailable(resource, "query records", err)
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, l.unavailable(resource, "scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, l.unavailable(resource, "iterate records", err)
	}
	return records, nil
}

// Create inserts partial at the end of resource's snapshot.
// A missing id is assigned from the id generator; a duplicate id is a
// validation error.
func (l *Local) Create(ctx context.Context, resource string, partial record.Fields) (record.Record, error) {
	if err := record.CheckResource(resource); err != nil {
		return record.Record{}, NewValidationError(resource, record.ID{}, "invalid resource key", err)
	}

	id, fields, err := record.Split(partial)
	if err != nil {
		return record.Record{}, NewValidationError(resource, record.ID{}, "invalid id", err)
	}
	if id.IsZero() {
		id = record.StringID(l.ids.Generate())
	}
	rec := record.Record{ID: id, Fields: fields}

	body, err := l.prepare(resource, rec)
	if err != nil {
		return record.Record{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, l.unavailable(resource, "begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	exists, err := rowExists(ctx, tx, resource, id)
	if err != nil {
		return record.Record{}, l.unavailable(resource, "check id", err)
	}
	if exists {
		return record.Record{}, NewValidationError(resource, id, "duplicate id", nil)
	}

	if err := insertRow(ctx, tx, resource, rec.ID, body); err != nil {
		return record.Record{}, l.unavailable(resource, "insert record", err)
	}
	if err := tx.Commit(); err != nil {
		return record.Record{}, l.unavailable(resource, "commit", err)
	}
	return rec, nil
}

// Update shallow-merges patch into the stored record.
func (l *Local) Update(ctx context.Context, resource string, id record.ID, patch record.Fields) (record.Record, error) {
	if err := record.CheckResource(resource); err != nil {
		return record.Record{}, NewValidationError(resource, id, "invalid resource key", err)
	}
	if raw, ok := patch[record.IDField]; ok && raw != nil {
		patched, err := record.ParseID(raw)
		if err != nil || patched != id {
			return record.Record{}, NewValidationError(resource, id, "id cannot be changed by update", err)
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, l.unavailable(resource, "begin tx", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `
		SELECT body FROM records
		WHERE resource = ? AND id = ? AND id_numeric = ?
	`, resource, id.String(), boolInt(id.IsNumeric())).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, NewNotFoundError(resource, id)
	}
	if err != nil {
		return record.Record{}, l.unavailable(resource, "load record", err)
	}

	current, err := decodeBody(id, body)
	if err != nil {
		return record.Record{}, l.unavailable(resource, "decode record", err)
	}
	merged := record.Merge(current, patch)

	newBody, err := l.prepare(resource, merged)
	if err != nil {
		return record.Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE records SET body = ?
		WHERE resource = ? AND id = ? AND id_numeric = ?
	`, newBody, resource, id.String(), boolInt(id.IsNumeric())); err != nil {
		return record.Record{}, l.unavailable(resource, "update record", err)
	}
	if err := tx.Commit(); err != nil {
		return record.Record{}, l.unavailable(resource, "commit", err)
	}
	return merged, nil
}

// Remove deletes id from resource. Removing an absent id succeeds.
func (l *Local) Remove(ctx context.Context, resource string, id record.ID) error {
	if err := record.CheckResource(resource); err != nil {
		return NewValidationError(resource, id, "invalid resource key", err)
	}
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE resource = ? AND id = ? AND id_numeric = ?
	`, resource, id.String(), boolInt(id.IsNumeric())); err != nil {
		return l.unavailable(resource, "delete record", err)
	}
	return nil
}

// Replace swaps resource's snapshot for records in a single transaction.
// Validation is skipped: records were already accepted by another backend.
func (l *Local) Replace(ctx context.Context, resource string, records []record.Record) error {
	if err := record.CheckResource(resource); err != nil {
		return NewValidationError(resource, record.ID{}, "invalid resource key", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return l.unavailable(resource, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE resource = ?`, resource); err != nil {
		return l.unavailable(resource, "clear snapshot", err)
	}

	for _, rec := range records {
		body, err := record.MarshalCanonical(rec.Fields)
		if err != nil {
			return NewValidationError(resource, rec.ID, "unencodable record", err)
		}
		if err := insertRow(ctx, tx, resource, rec.ID, string(body)); err != nil {
			return l.unavailable(resource, "insert record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return l.unavailable(resource, "commit", err)
	}
	return nil
}

// Put upserts rec, keeping the position of an existing row.
func (l *Local) Put(ctx context.Context, resource string, rec record.Record) error {
	if err := record.CheckResource(resource); err != nil {
		return NewValidationError(resource, rec.ID, "invalid resource key", err)
	}
	body, err := record.MarshalCanonical(rec.Fields)
	if err != nil {
		return NewValidationError(resource, rec.ID, "unencodable record", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return l.unavailable(resource, "begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE records SET body = ?
		WHERE resource = ? AND id = ? AND id_numeric = ?
	`, string(body), resource, rec.ID.String(), boolInt(rec.ID.IsNumeric()))
	if err != nil {
		return l.unavailable(resource, "update record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return l.unavailable(resource, "rows affected", err)
	}
	if n == 0 {
		if err := insertRow(ctx, tx, resource, rec.ID, string(body)); err != nil {
			return l.unavailable(resource, "insert record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return l.unavailable(resource, "commit", err)
	}
	return nil
}

// Resources returns every resource key with at least one stored record.
func (l *Local) Resources(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT resource FROM records ORDER BY resource`)
	if err != nil {
		return nil, l.unavailable("", "query resources", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, l.unavailable("", "scan resource", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, l.unavailable("", "iterate resources", err)
	}
	return out, nil
}

// prepare validates rec and returns its stored body.
func (l *Local) prepare(resource string, rec record.Record) (string, error) {
	if l.validator != nil {
		if err := l.validator.Validate(resource, rec); err != nil {
			return "", NewValidationError(resource, rec.ID, "schema validation failed", err)
		}
	}
	body, err := record.MarshalCanonical(rec.Fields)
	if err != nil {
		return "", NewValidationError(resource, rec.ID, "unencodable payload", err)
	}
	return string(body), nil
}

// unavailable classifies a database failure as connectivity: the local store
// is the last backend, so a failure here means nothing is reachable.
func (l *Local) unavailable(resource, op string, err error) error {
	return NewConnectivityError(resource, "local store: "+op, err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func rowExists(ctx context.Context, q queryer, resource string, id record.ID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records
		WHERE resource = ? AND id = ? AND id_numeric = ?
	`, resource, id.String(), boolInt(id.IsNumeric())).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func insertRow(ctx context.Context, q queryer, resource string, id record.ID, body string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (resource, id, id_numeric, position, body)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM records WHERE resource = ?), ?)
	`, resource, id.String(), boolInt(id.IsNumeric()), resource, body)
	return err
}

func scanRecord(rows *sql.Rows) (record.Record, error) {
	var (
		idText  string
		numeric int
		body    string
	)
	if err := rows.Scan(&idText, &numeric, &body); err != nil {
		return record.Record{}, err
	}
	id, err := storedID(idText, numeric == 1)
	if err != nil {
		return record.Record{}, err
	}
	return decodeBody(id, body)
}

func storedID(text string, numeric bool) (record.ID, error) {
	if !numeric {
		return record.StringID(text), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return record.ID{}, fmt.Errorf("stored numeric id %q: %w", text, err)
	}
	return record.IntID(n), nil
}

func decodeBody(id record.ID, body string) (record.Record, error) {
	fields, err := record.DecodeObject([]byte(body))
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{ID: id, Fields: record.Fields(fields)}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
