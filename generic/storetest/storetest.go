// Package storetest checks a generic.DocumentStore implementation against
// the contract documented in generic/store.go. Backends call Run from
// their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// doc is the document shape used by the suite.
type doc struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Status    string    `json:"status"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func raw(id, accountID, status string) generic.RawDocument {
	body, _ := json.Marshal(map[string]string{"id": id, "accountId": accountID, "status": status})
	return generic.RawDocument{ID: id, Body: body}
}

func field(t *testing.T, body json.RawMessage, name string) string {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	s, _ := fields[name].(string)
	return s
}

func ids(docs []generic.RawDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// Run exercises the DocumentStore contract. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) generic.DocumentStore) {
	ctx := context.Background()

	t.Run("GetMissingReturnsNil", func(t *testing.T) {
		s := open(t)
		got, err := s.Get(ctx, "charges", "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("InsertThenGet", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))

		got, err := s.Get(ctx, "charges", "c1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "c1", got.ID)
		assert.Equal(t, "pending", field(t, got.Body, "status"))
		assert.Equal(t, "c1", field(t, got.Body, "id"))
	})

	t.Run("InsertDuplicateFails", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))
		assert.Error(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "paid")))
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("x", "acc-1", "pending")))
		require.NoError(t, s.Insert(ctx, "transactions", raw("x", "acc-1", "completed")))

		got, err := s.Get(ctx, "transactions", "x")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "completed", field(t, got.Body, "status"))
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"b", "a", "c"} {
			require.NoError(t, s.Insert(ctx, "charges", raw(id, "acc-1", "pending")))
		}
		docs, err := s.List(ctx, "charges")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, ids(docs))

		empty, err := s.List(ctx, "courses")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("FindMatchesField", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))
		require.NoError(t, s.Insert(ctx, "charges", raw("c2", "acc-2", "pending")))
		require.NoError(t, s.Insert(ctx, "charges", raw("c3", "acc-1", "paid")))

		docs, err := s.Find(ctx, "charges", "accountId", "acc-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c3"}, ids(docs))

		docs, err = s.Find(ctx, "charges", "status", "overdue")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("FindRejectsUnsafeField", func(t *testing.T) {
		s := open(t)
		_, err := s.Find(ctx, "charges", "status') OR 1=1 --", "x")
		assert.Error(t, err)
	})

	t.Run("PatchMergesFields", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))

		require.NoError(t, s.Patch(ctx, "charges", "c1", map[string]json.RawMessage{
			"status": json.RawMessage(`"paid"`),
			"amount": json.RawMessage(`"450"`),
		}))

		got, err := s.Get(ctx, "charges", "c1")
		require.NoError(t, err)
		assert.Equal(t, "paid", field(t, got.Body, "status"))
		assert.Equal(t, "450", field(t, got.Body, "amount"))
		assert.Equal(t, "acc-1", field(t, got.Body, "accountId"))

		docs, err := s.Find(ctx, "charges", "status", "paid")
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("PatchMissingIsNotFound", func(t *testing.T) {
		s := open(t)
		err := s.Patch(ctx, "charges", "nope", map[string]json.RawMessage{"status": json.RawMessage(`"paid"`)})
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("RemoveDeletes", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))
		require.NoError(t, s.Remove(ctx, "charges", "c1"))

		got, err := s.Get(ctx, "charges", "c1")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.ErrorIs(t, s.Remove(ctx, "charges", "c1"), generic.ErrNotFound)
	})

	t.Run("ResetClearsEveryCollection", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Insert(ctx, "charges", raw("c1", "acc-1", "pending")))
		require.NoError(t, s.Insert(ctx, "accountHolders", raw("a1", "", "active")))

		require.NoError(t, s.Reset(ctx))

		for _, c := range []string{"charges", "accountHolders"} {
			docs, err := s.List(ctx, c)
			require.NoError(t, err)
			assert.Empty(t, docs, c)
		}
	})

	t.Run("CollectionOrdersNewestFirst", func(t *testing.T) {
		s := open(t)
		c := generic.NewCollection[doc](s, "charges").WithClock(stepClock())

		first, err := c.Create(ctx, doc{AccountID: "acc-1", Status: "pending"})
		require.NoError(t, err)
		second, err := c.Create(ctx, doc{AccountID: "acc-1", Status: "pending"})
		require.NoError(t, err)
		_, err = c.Create(ctx, doc{AccountID: "acc-2", Status: "pending"})
		require.NoError(t, err)

		assert.NotEmpty(t, first.ID)
		assert.True(t, second.CreatedAt.After(first.CreatedAt))

		byAccount, err := c.GetByField(ctx, "accountId", "acc-1")
		require.NoError(t, err)
		require.Len(t, byAccount, 2)
		assert.Equal(t, second.ID, byAccount[0].ID)
		assert.Equal(t, first.ID, byAccount[1].ID)

		all, err := c.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("CollectionUpdate", func(t *testing.T) {
		s := open(t)
		c := generic.NewCollection[doc](s, "charges").WithClock(stepClock())
		created, err := c.Create(ctx, doc{AccountID: "acc-1", Status: "pending"})
		require.NoError(t, err)

		require.NoError(t, c.Update(ctx, created.ID, generic.Patch{"status": "paid"}))
		got, err := c.GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "paid", got.Status)
		assert.Equal(t, created.CreatedAt, got.CreatedAt)
		assert.True(t, got.UpdatedAt.After(created.UpdatedAt))

		assert.Error(t, c.Update(ctx, created.ID, generic.Patch{"id": "other"}))
		assert.ErrorIs(t, c.Update(ctx, "nope", generic.Patch{"status": "paid"}), generic.ErrNotFound)

		missing, err := c.GetByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("LedgerReconciles", func(t *testing.T) {
		s := open(t)
		ledger := generic.NewLedger(generic.NewCollection[generic.Transaction](s, generic.TransactionsCollection).WithClock(stepClock()))

		_, err := ledger.Append(ctx, generic.Transaction{AccountID: "acc-1", Type: generic.TxTopUp, Amount: decimal.NewFromInt(500), Reference: "sched-1"})
		require.NoError(t, err)
		_, err = ledger.Append(ctx, generic.Transaction{AccountID: "acc-1", Type: generic.TxCourseFee, Amount: decimal.NewFromInt(-450), Reference: "charge-1"})
		require.NoError(t, err)

		rec, err := ledger.Reconcile(ctx, "acc-1", decimal.Zero, decimal.NewFromInt(50))
		require.NoError(t, err)
		assert.True(t, rec.Balanced)

		byRef, err := ledger.ByReference(ctx, "sched-1")
		require.NoError(t, err)
		require.Len(t, byRef, 1)
		assert.Equal(t, generic.TxStatusCompleted, byRef[0].Status)
	})
}
