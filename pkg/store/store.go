package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Tables used by the course generator.
const (
	TableLessons = "lessons"
	TableCourses = "courses"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("record not found")

// Record is one stored row. "id" and "createdAt" are set by the store.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Store persists schemaless records grouped by table.
type Store interface {
	// Insert stores rec and returns it with id and createdAt filled in.
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// InsertOnce stores rec unless a record with the same idempotency key
	// exists in table, in which case the existing record is returned and
	// created is false.
	InsertOnce(ctx context.Context, table, key string, rec Record) (stored Record, created bool, err error)
	Get(ctx context.Context, table, id string) (Record, error)
	// List returns the records of table whose top-level fields equal every
	// value in filter, oldest first.
	List(ctx context.Context, table string, filter map[string]any) ([]Record, error)
	Close() error
}

// ToRecord converts a JSON-serializable value into a Record.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	return rec, nil
}

// Decode converts a Record into target.
func Decode(rec Record, target any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
