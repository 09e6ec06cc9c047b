package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Gateway. Transactions hold a store-wide lock,
// so writers are fully serialized.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Doc
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Doc),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, path string) (Doc, bool, error) {
	if err := validatePath("docstore.Get", path); err != nil {
		return Doc{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[path]
	return copyDoc(d), ok, nil
}

func (s *MemoryStore) Set(_ context.Context, path string, value any, merge bool) error {
	if err := validatePath("docstore.Set", path); err != nil {
		return err
	}
	data, err := encode("docstore.Set", value, merge)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.next(s.docs[path], path, data, merge)
	if err != nil {
		return err
	}
	s.docs[path] = d
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		doc    Doc
		fields map[string]any
	}
	var rows []row
	for path, d := range s.docs {
		if CollectionOf(path) != q.Collection {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			continue
		}
		if !matches(fields, q.Where) {
			continue
		}
		rows = append(rows, row{doc: copyDoc(d), fields: fields})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(rows[i].fields[q.OrderBy], rows[j].fields[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return rows[i].doc.Path < rows[j].doc.Path
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]Doc, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

// RunInTx applies fn's writes only if fn returns nil.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, writes: make(map[string]Doc)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for path, d := range tx.writes {
		s.docs[path] = d
	}
	return nil
}

func (s *MemoryStore) next(prev Doc, path string, data []byte, merge bool) (Doc, error) {
	if merge && prev.Data != nil {
		merged, err := mergeObjects(prev.Data, data)
		if err != nil {
			return Doc{}, err
		}
		data = merged
	}
	return Doc{
		Path:      path,
		Data:      data,
		Version:   prev.Version + 1,
		UpdatedAt: s.now(),
	}, nil
}

type memoryTx struct {
	store  *MemoryStore
	writes map[string]Doc
}

func (t *memoryTx) current(path string) (Doc, bool) {
	if d, ok := t.writes[path]; ok {
		return d, true
	}
	d, ok := t.store.docs[path]
	return d, ok
}

func (t *memoryTx) Get(_ context.Context, path string) (Doc, bool, error) {
	if err := validatePath("docstore.Tx.Get", path); err != nil {
		return Doc{}, false, err
	}
	d, ok := t.current(path)
	return copyDoc(d), ok, nil
}

func (t *memoryTx) Set(_ context.Context, path string, value any, merge bool) error {
	if err := validatePath("docstore.Tx.Set", path); err != nil {
		return err
	}
	data, err := encode("docstore.Tx.Set", value, merge)
	if err != nil {
		return err
	}
	prev, _ := t.current(path)
	d, err := t.store.next(prev, path, data, merge)
	if err != nil {
		return err
	}
	t.writes[path] = d
	return nil
}

func copyDoc(d Doc) Doc {
	if d.Data != nil {
		d.Data = append(json.RawMessage(nil), d.Data...)
	}
	return d
}

func matches(fields map[string]any, where []Filter) bool {
	for _, f := range where {
		got, err := json.Marshal(fields[f.Field])
		if err != nil {
			return false
		}
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false
		}
		if !bytes.Equal(got, want) {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return bytes.Compare(aj, bj)
}
