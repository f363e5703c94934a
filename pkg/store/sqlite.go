package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"coursegen/pkg/db"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on the records table.
type SQLiteStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d, now: time.Now}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) prepare(rec Record) (Record, []byte, error) {
	out := make(Record, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	if out.ID() == "" {
		out["id"] = uuid.NewString()
	}
	created := s.now().UTC()
	out["createdAt"] = created.Format(time.RFC3339Nano)

	data, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("encode record: %w", err)
	}
	return out, data, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	out, data, err := s.prepare(rec)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, tbl, data, created_at) VALUES (?, ?, ?, ?)`,
		out.ID(), table, string(data), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertOnce(ctx context.Context, table, key string, rec Record) (Record, bool, error) {
	if key == "" {
		out, err := s.Insert(ctx, table, rec)
		return out, err == nil, err
	}

	out, data, err := s.prepare(rec)
	if err != nil {
		return nil, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, tbl, idempotency_key, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tbl, idempotency_key) DO NOTHING`,
		out.ID(), table, key, string(data), s.now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("insert into %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return out, true, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE tbl = ? AND idempotency_key = ?`, table, key).Scan(&existing)
	if err != nil {
		return nil, false, fmt.Errorf("load existing %s record %q: %w", table, key, err)
	}
	stored, err := decodeRecord(existing)
	return stored, false, err
}

func (s *SQLiteStore) Get(ctx context.Context, table, id string) (Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *SQLiteStore) List(ctx context.Context, table string, filter map[string]any) ([]Record, error) {
	var (
		sb   strings.Builder
		args = []any{table}
	)
	sb.WriteString(`SELECT data FROM records WHERE tbl = ?`)

	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !fieldName.MatchString(k) {
			return nil, fmt.Errorf("invalid filter field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+k, filterValue(filter[k]))
	}
	sb.WriteString(` ORDER BY created_at, rowid`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// filterValue maps Go values onto what json_extract returns.
func filterValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func decodeRecord(data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
