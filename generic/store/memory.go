// Package store provides an in-memory DocumentStore.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*entry
	seq         int64
}

type entry struct {
	seq  int64
	body json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]*entry)}
}

func (m *Memory) List(_ context.Context, collection string) ([]generic.RawDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(collection, func(json.RawMessage) bool { return true }), nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (*generic.RawDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &generic.RawDocument{ID: id, Body: clone(e.body)}, nil
}

func (m *Memory) Find(_ context.Context, collection, field, value string) ([]generic.RawDocument, error) {
	if !generic.ValidField(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(collection, func(body json.RawMessage) bool {
		return generic.FieldEquals(body, field, value)
	}), nil
}

func (m *Memory) Insert(_ context.Context, collection string, doc generic.RawDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]*entry)
		m.collections[collection] = docs
	}
	if _, exists := docs[doc.ID]; exists {
		return fmt.Errorf("duplicate id %s in %s", doc.ID, collection)
	}
	m.seq++
	docs[doc.ID] = &entry{seq: m.seq, body: clone(doc.Body)}
	return nil
}

func (m *Memory) Patch(_ context.Context, collection, id string, fields map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.collections[collection][id]
	if !ok {
		return generic.ErrNotFound
	}
	merged, err := generic.MergeFields(e.body, fields)
	if err != nil {
		return err
	}
	e.body = merged
	return nil
}

func (m *Memory) Remove(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return generic.ErrNotFound
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]map[string]*entry)
	return nil
}

// sortedLocked returns matching documents in insertion order.
func (m *Memory) sortedLocked(collection string, match func(json.RawMessage) bool) []generic.RawDocument {
	type item struct {
		id string
		e  *entry
	}
	var items []item
	for id, e := range m.collections[collection] {
		if match(e.body) {
			items = append(items, item{id: id, e: e})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].e.seq < items[j].e.seq })

	out := make([]generic.RawDocument, len(items))
	for i, it := range items {
		out[i] = generic.RawDocument{ID: it.id, Body: clone(it.e.body)}
	}
	return out
}

func clone(b json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), b...)
}
