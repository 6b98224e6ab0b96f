// Package paginate pages through several independently ordered sources as
// one stream, ordered by (created_at desc, id desc).
//
// Each page fetches up to limit+1 rows from every source strictly after that
// source's cursor position, merges them and emits the first limit. The next
// cursor records, per source, the last row emitted from it; a source that
// emitted nothing on a page keeps its previous position.
package paginate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/xraph/entitle/types"
)

// Row is one fetched row with its ordering key.
type Row[T any] struct {
	Key   types.Keyset
	Value T
}

// Source is one ordered table.
type Source[T any] struct {
	Tag string
	// Fetch returns up to limit rows strictly after after (or from the start
	// when nil), ordered by (created_at desc, id desc).
	Fetch func(ctx context.Context, after *types.Keyset, limit int) ([]Row[T], error)
	// Exists reports whether the row at a cursor position still exists.
	Exists func(ctx context.Context, key types.Keyset) (bool, error)
}

// Item is an emitted row tagged with its source.
type Item[T any] struct {
	Source string
	Key    types.Keyset
	Value  T
}

// Page is one page of merged rows. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []Item[T]
	NextCursor string
}

// Paginate returns the page following cursor (the first page when cursor is
// empty). scope names the listing the sources serve; a cursor issued under
// another scope yields ErrCursorScope. limit must be positive.
func Paginate[T any](ctx context.Context, sources []Source[T], scope, cursor string, limit int) (*Page[T], error) {
	if limit < 1 {
		return nil, fmt.Errorf("paginate: limit must be positive, got %d", limit)
	}

	positions := make(map[string]types.Keyset, len(sources))
	if cursor != "" {
		issued, decoded, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		if issued != scope {
			return nil, fmt.Errorf("%w: issued for %q", ErrCursorScope, issued)
		}
		known := make(map[string]Source[T], len(sources))
		for _, s := range sources {
			known[s.Tag] = s
		}
		for _, p := range decoded {
			src, ok := known[p.Source]
			if !ok {
				return nil, fmt.Errorf("%w: unknown source %q", ErrMalformedCursor, p.Source)
			}
			if src.Exists != nil {
				exists, err := src.Exists(ctx, p.Key)
				if err != nil {
					return nil, fmt.Errorf("paginate: check %s position: %w", p.Source, err)
				}
				if !exists {
					return nil, fmt.Errorf("%w: %s row %q no longer exists", ErrStaleCursor, p.Source, p.Key.ID)
				}
			}
			positions[p.Source] = p.Key
		}
	}

	var merged []Item[T]
	for _, s := range sources {
		var after *types.Keyset
		if k, ok := positions[s.Tag]; ok {
			after = &k
		}
		rows, err := s.Fetch(ctx, after, limit+1)
		if err != nil {
			return nil, fmt.Errorf("paginate: fetch %s: %w", s.Tag, err)
		}
		for _, r := range rows {
			merged = append(merged, Item[T]{Source: s.Tag, Key: r.Key, Value: r.Value})
		}
	}

	slices.SortStableFunc(merged, compareItems[T])

	emitted := merged
	if len(emitted) > limit {
		emitted = merged[:limit]
	}
	for _, it := range emitted {
		positions[it.Source] = it.Key
	}

	page := &Page[T]{Items: emitted}
	if len(merged) > len(emitted) {
		next := make([]Position, 0, len(positions))
		for tag, k := range positions {
			next = append(next, Position{Source: tag, Key: k})
		}
		token, err := EncodeCursor(scope, next)
		if err != nil {
			return nil, err
		}
		page.NextCursor = token
	}
	return page, nil
}

// compareItems orders newest first, then by descending id, then by source.
func compareItems[T any](a, b Item[T]) int {
	return cmp.Or(
		b.Key.CreatedAt.Compare(a.Key.CreatedAt),
		strings.Compare(b.Key.ID, a.Key.ID),
		strings.Compare(a.Source, b.Source),
	)
}
