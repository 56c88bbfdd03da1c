// Package docstore is the document store adapter: schema-less collections with
// equality-filtered queries, full-snapshot subscriptions and create/update writes.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidDocument   = errors.New("invalid document")
)

// Document is one stored record. Fields only ever hold JSON types.
type Document struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Snapshot is the full current result set of a subscription. It supersedes
// every snapshot delivered before it.
type Snapshot struct {
	Collection string
	Documents  []Document
	ReadAt     time.Time
}

type (
	SnapshotFunc func(Snapshot)
	ErrorFunc    func(error)
	Unsubscribe  func()
)

type Store interface {
	// Subscribe delivers a snapshot now and after every change to the matching set.
	// Delivery stops once the returned func is called or ctx is done; a delivery
	// already in flight at that moment may still complete.
	Subscribe(ctx context.Context, collection string, filter Filter, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
	Create(ctx context.Context, collection string, body map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, partial map[string]any) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
}

// Filter is an equality predicate on a top-level field. The zero Filter matches everything.
type Filter struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

func (f Filter) IsZero() bool { return f.Field == "" }

func (f Filter) Match(fields map[string]any) bool {
	if f.IsZero() {
		return true
	}
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.Value)
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the write time when a body is stored.
var ServerTimestamp = serverTimestamp{}

// Normalize resolves ServerTimestamp sentinels against now and round-trips the
// body through JSON so every backend stores the same value types.
func Normalize(body map[string]any, now time.Time) (map[string]any, error) {
	resolved := make(map[string]any, len(body))
	for k, v := range body {
		if _, ok := v.(serverTimestamp); ok {
			resolved[k] = now.UTC().Format(time.RFC3339Nano)
			continue
		}
		resolved[k] = v
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return out, nil
}

func ValidCollection(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Clone returns a copy whose top-level field map can be mutated safely.
func (d Document) Clone() Document {
	d.Fields = cloneFields(d.Fields)
	return d
}
