/*
store.go - Persistence interface for documents

PURPOSE:
  Defines the interface between the domain logic and the database.
  Every entity (account holders, courses, charges, transactions, rules,
  schedules, ...) lives in its own named collection of JSON documents.
  Different implementations can use SQLite, MongoDB, or in-memory storage.

KEY INTERFACES:
  DocumentStore: Raw JSON documents keyed by (collection, id)
  Collection[T]: Typed wrapper adding ids, timestamps and ordering (collection.go)

CONTRACT:
  - Get returns (nil, nil) when the id does not exist
  - Patch and Remove return ErrNotFound when the id does not exist
  - List and Find return documents in insertion order; Collection re-sorts
  - Find matches a top-level string field by exact equality
  - No operation spans more than one document. There are no multi-document
    transactions; callers sequence their writes and report partial progress.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, one table with JSON bodies
  - store/mongo/mongo.go: MongoDB, one collection per entity
  - generic/store/memory.go: In-memory for testing

EXAMPLE:
  accounts := generic.NewCollection[AccountHolder](store, "accountHolders")
  acc, err := accounts.GetByID(ctx, id)
  if acc == nil {
      // not found
  }

SEE ALSO:
  - collection.go: Typed access on top of DocumentStore
  - ledger.go: Append-only transactions on top of a collection
*/
package generic

import (
	"context"
	"encoding/json"
	"regexp"
)

// =============================================================================
// DOCUMENT STORE - Interface for JSON document persistence
// =============================================================================

// RawDocument is a stored JSON object and its id. The body always carries
// the same id under the "id" key.
type RawDocument struct {
	ID   string
	Body json.RawMessage
}

// DocumentStore handles persistence of JSON documents grouped in collections.
type DocumentStore interface {
	// List returns all documents of a collection in insertion order.
	List(ctx context.Context, collection string) ([]RawDocument, error)

	// Get returns one document, or nil if it does not exist.
	Get(ctx context.Context, collection, id string) (*RawDocument, error)

	// Find returns documents whose top-level field equals value.
	Find(ctx context.Context, collection, field, value string) ([]RawDocument, error)

	// Insert writes a new document. The id must not exist yet.
	Insert(ctx context.Context, collection string, doc RawDocument) error

	// Patch overwrites the given top-level fields of an existing document.
	Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage) error

	// Remove deletes one document.
	Remove(ctx context.Context, collection, id string) error

	// Reset deletes every document in every collection.
	Reset(ctx context.Context) error
}

// fieldName restricts lookups to plain identifiers so backends can safely
// build JSON paths and filters from them.
var fieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidField reports whether name can be used with Find.
func ValidField(name string) bool {
	return fieldName.MatchString(name)
}

// FieldEquals decodes body and reports whether its top-level field is the
// string value. Backends without native JSON queries use it for Find.
func FieldEquals(body json.RawMessage, field, value string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	raw, ok := fields[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == value
}

// MergeFields applies a patch to a JSON object body and returns the new body.
func MergeFields(body json.RawMessage, patch map[string]json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	for k, v := range patch {
		fields[k] = v
	}
	return json.Marshal(fields)
}
