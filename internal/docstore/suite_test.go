package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/docstore"
)

type queueItem struct {
	Status      string `json:"status"`
	RequestedAt string `json:"requested_at"`
	Retries     int    `json:"retries"`
}

// runGatewaySuite exercises the Gateway contract against any backend.
func runGatewaySuite(t *testing.T, store docstore.Gateway) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "learners/nobody/profile/data")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Error("Get() found a document that was never written")
		}
	})

	t.Run("set and get", func(t *testing.T) {
		path := "learners/l1/profile/data"
		if err := store.Set(ctx, path, map[string]any{"grade": "9", "track": "sayisal"}, false); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		var got map[string]string
		ok, err := docstore.GetInto(ctx, store, path, &got)
		if err != nil || !ok {
			t.Fatalf("GetInto() ok=%v err=%v", ok, err)
		}
		if got["grade"] != "9" {
			t.Errorf("grade = %q, want 9", got["grade"])
		}
	})

	t.Run("merge keeps other keys", func(t *testing.T) {
		path := "learners/l2/gamification/data"
		if err := store.Set(ctx, path, map[string]any{"xp": 10, "streak": 2}, false); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := store.Set(ctx, path, map[string]any{"xp": 30}, true); err != nil {
			t.Fatalf("Set(merge) error = %v", err)
		}
		var got map[string]int
		if _, err := docstore.GetInto(ctx, store, path, &got); err != nil {
			t.Fatalf("GetInto() error = %v", err)
		}
		if got["xp"] != 30 || got["streak"] != 2 {
			t.Errorf("merged doc = %v, want xp=30 streak=2", got)
		}
		doc, _, _ := store.Get(ctx, path)
		if doc.Version != 2 {
			t.Errorf("Version = %d, want 2", doc.Version)
		}
	})

	t.Run("merge rejects non-object", func(t *testing.T) {
		err := store.Set(ctx, "learners/l2/misc/list", []int{1, 2}, true)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Set(merge array) error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		err := store.Set(ctx, "/learners//x", map[string]any{}, false)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Set(bad path) error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("query filter order limit", func(t *testing.T) {
		items := map[string]queueItem{
			"plan_queue/a": {Status: "pending", RequestedAt: "2024-05-01T10:00:00Z"},
			"plan_queue/b": {Status: "pending", RequestedAt: "2024-05-01T08:00:00Z"},
			"plan_queue/c": {Status: "completed", RequestedAt: "2024-05-01T07:00:00Z"},
			"plan_queue/d": {Status: "pending", RequestedAt: "2024-05-01T09:00:00Z"},
		}
		for path, item := range items {
			if err := store.Set(ctx, path, item, false); err != nil {
				t.Fatalf("Set(%s) error = %v", path, err)
			}
		}

		docs, err := store.Query(ctx, docstore.Query{
			Collection: "plan_queue",
			Where:      []docstore.Filter{{Field: "status", Value: "pending"}},
			OrderBy:    "requested_at",
			Limit:      2,
		})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("len(docs) = %d, want 2", len(docs))
		}
		if docs[0].Path != "plan_queue/b" || docs[1].Path != "plan_queue/d" {
			t.Errorf("order = [%s %s], want [plan_queue/b plan_queue/d]", docs[0].Path, docs[1].Path)
		}
	})

	t.Run("transaction commits atomically", func(t *testing.T) {
		err := store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if err := tx.Set(ctx, "learners/l3/a/doc", map[string]int{"n": 1}, false); err != nil {
				return err
			}
			if _, ok, err := tx.Get(ctx, "learners/l3/a/doc"); err != nil || !ok {
				t.Errorf("tx should read its own write, ok=%v err=%v", ok, err)
			}
			return tx.Set(ctx, "learners/l3/b/doc", map[string]int{"n": 2}, false)
		})
		if err != nil {
			t.Fatalf("RunInTx() error = %v", err)
		}
		for _, p := range []string{"learners/l3/a/doc", "learners/l3/b/doc"} {
			if _, ok, _ := store.Get(ctx, p); !ok {
				t.Errorf("%s missing after commit", p)
			}
		}
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		boom := apperr.Invalid("test", "boom")
		err := store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if err := tx.Set(ctx, "learners/l4/a/doc", map[string]int{"n": 1}, false); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("RunInTx() error = %v, want the callback error kind", err)
		}
		if _, ok, _ := store.Get(ctx, "learners/l4/a/doc"); ok {
			t.Error("write from failed transaction is visible")
		}
	})
}
