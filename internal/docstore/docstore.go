// Package docstore provides path-addressed JSON document storage.
//
// Paths are slash separated ("learners/42/plan/current"). The collection of a
// document is its path without the last segment; queries run over a single
// collection. Set with merge performs a shallow merge of top-level object
// keys. All backend failures surface as apperr.ErrStorage.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// Doc is a stored document.
type Doc struct {
	Path      string
	Data      json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// Decode unmarshals the document body into v.
func (d Doc) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return apperr.Wrap("docstore.Decode", apperr.ErrStorage, fmt.Errorf("decode %s: %w", d.Path, err))
	}
	return nil
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string // top-level field; empty orders by path
	Desc       bool
	Limit      int // 0 means no limit
}

// Tx is the document access available inside a transaction.
type Tx interface {
	Get(ctx context.Context, path string) (Doc, bool, error)
	Set(ctx context.Context, path string, value any, merge bool) error
}

// Gateway is the persistence contract used by the planner.
type Gateway interface {
	Tx
	Query(ctx context.Context, q Query) ([]Doc, error)
	// RunInTx runs fn as one atomic read-modify-write. fn may be invoked more
	// than once when the backend detects a conflicting writer, so it must not
	// have side effects outside tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// GetInto loads path into v. It reports false when the document is absent.
func GetInto(ctx context.Context, tx Tx, path string, v any) (bool, error) {
	doc, ok, err := tx.Get(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	if err := doc.Decode(v); err != nil {
		return false, err
	}
	return true, nil
}

// Join builds a document path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// CollectionOf returns the collection part of a document path.
func CollectionOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func validatePath(op, path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return apperr.Invalid(op, "invalid document path %q", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return apperr.Invalid(op, "invalid document path %q", path)
		}
	}
	return nil
}

func encode(op string, value any, merge bool) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.ErrInvalidArgument, fmt.Errorf("marshal document: %w", err))
	}
	if merge && (len(data) == 0 || data[0] != '{') {
		return nil, apperr.Invalid(op, "merge requires a JSON object")
	}
	return data, nil
}

// mergeObjects overlays the top-level keys of patch onto base.
func mergeObjects(base, patch []byte) ([]byte, error) {
	var dst map[string]json.RawMessage
	if err := json.Unmarshal(base, &dst); err != nil || dst == nil {
		dst = map[string]json.RawMessage{}
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(patch, &src); err != nil {
		return nil, err
	}
	for k, v := range src {
		dst[k] = v
	}
	return json.Marshal(dst)
}
