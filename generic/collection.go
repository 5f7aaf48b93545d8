package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is a fixed-width RFC3339 layout, so stored timestamps
// sort lexically in the same order as chronologically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Patch is a set of top-level fields to overwrite on a document.
type Patch map[string]any

// =============================================================================
// COLLECTION - Typed access to one collection of a DocumentStore
// =============================================================================

// Collection stores values of T as JSON documents. T must encode to a JSON
// object; the collection owns its "id", "createdAt" and "updatedAt" keys.
type Collection[T any] struct {
	store DocumentStore
	name  string
	now   func() time.Time
}

func NewCollection[T any](store DocumentStore, name string) *Collection[T] {
	return &Collection[T]{store: store, name: name, now: time.Now}
}

// WithClock returns a copy of the collection that stamps documents using now.
func (c *Collection[T]) WithClock(now func() time.Time) *Collection[T] {
	return &Collection[T]{store: c.store, name: c.name, now: now}
}

func (c *Collection[T]) Name() string { return c.name }

// GetAll returns every document, newest first.
func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	docs, err := c.store.List(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	return c.decodeSorted(docs)
}

// GetByID returns the document, or nil if it does not exist.
func (c *Collection[T]) GetByID(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c.name, id, err)
	}
	if doc == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return &v, nil
}

// GetByField returns documents whose field equals value, newest first.
func (c *Collection[T]) GetByField(ctx context.Context, field, value string) ([]T, error) {
	if !ValidField(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	docs, err := c.store.Find(ctx, c.name, field, value)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", c.name, field, err)
	}
	return c.decodeSorted(docs)
}

// Create assigns a new id and timestamps, stores the value and returns
// it as stored.
func (c *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	body, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", c.name, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return zero, fmt.Errorf("%s documents must be JSON objects: %w", c.name, err)
	}

	id := uuid.NewString()
	stamp, _ := json.Marshal(c.now().UTC().Format(TimestampLayout))
	fields["id"], _ = json.Marshal(id)
	fields["createdAt"] = stamp
	fields["updatedAt"] = stamp

	body, err = json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	if err := c.store.Insert(ctx, c.name, RawDocument{ID: id, Body: body}); err != nil {
		return zero, fmt.Errorf("insert %s: %w", c.name, err)
	}

	var stored T
	if err := json.Unmarshal(body, &stored); err != nil {
		return zero, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return stored, nil
}

// Update overwrites the patched fields and refreshes updatedAt.
// Returns ErrNotFound if the document does not exist.
func (c *Collection[T]) Update(ctx context.Context, id string, patch Patch) error {
	fields := make(map[string]json.RawMessage, len(patch)+1)
	for k, v := range patch {
		if k == "id" || k == "createdAt" {
			return fmt.Errorf("field %q of %s is immutable", k, c.name)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", c.name, k, err)
		}
		fields[k] = raw
	}
	fields["updatedAt"], _ = json.Marshal(c.now().UTC().Format(TimestampLayout))

	if err := c.store.Patch(ctx, c.name, id, fields); err != nil {
		return fmt.Errorf("update %s/%s: %w", c.name, id, err)
	}
	return nil
}

// Delete removes the document. Returns ErrNotFound if it does not exist.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if err := c.store.Remove(ctx, c.name, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.name, id, err)
	}
	return nil
}

// decodeSorted decodes documents and orders them by createdAt descending.
// Documents created at the same instant keep reverse insertion order.
func (c *Collection[T]) decodeSorted(docs []RawDocument) ([]T, error) {
	type entry struct {
		value   T
		created string
	}
	entries := make([]entry, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var e entry
		if err := json.Unmarshal(docs[i].Body, &e.value); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c.name, docs[i].ID, err)
		}
		var stamp struct {
			CreatedAt string `json:"createdAt"`
		}
		_ = json.Unmarshal(docs[i].Body, &stamp)
		e.created = stamp.CreatedAt
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].created > entries[j].created
	})

	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}
