package keypager

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// SeekDirection defines which side of the cursor position a page is fetched
// from. Regardless of direction, returned pages are always in the canonical
// requested sort order.
type SeekDirection string

const (
	SeekForward  SeekDirection = "forward"
	SeekBackward SeekDirection = "backward"
)

func (d SeekDirection) Valid() bool {
	return d == SeekForward || d == SeekBackward
}

// PageRequest is intended for API payloads. For proper code generation,
// inline it:
//
//	type MyFilter struct {
//	    Paging PageRequest `json:",inline"`
//	}
type PageRequest struct {
	// Limit - maximum number of records to return in the response.
	// Must be positive; values above MaxLimit are clamped.
	Limit int `json:"limit"`
	// Cursor - encoded token obtained from a previous Page. Empty means the
	// first page in the requested direction.
	Cursor string `json:"cursor"`
	// Direction - seek direction relative to the cursor position. Empty
	// defaults to SeekForward.
	Direction SeekDirection `json:"direction"`
}

// Page is a bounded slice of the dataset plus the tokens needed to continue
// in either direction. Items are always in the canonical requested sort
// order, independent of the seek direction that produced the page.
type Page[T any] struct {
	// Items result elements.
	Items []T `json:"data"`
	// NextCursor resumes after the last item of the page. Empty means there
	// is no page in that direction.
	NextCursor string `json:"nextCursor"`
	// PrevCursor resumes before the first item of the page. Empty means the
	// page is the start of the dataset.
	PrevCursor string `json:"prevCursor"`
	// HasMore reports whether more records exist in the requested seek
	// direction.
	HasMore bool `json:"hasMore"`
	// AppliedLimit effective limit used for the query.
	AppliedLimit int `json:"limit"`
}

// Source is the single operation FetchPage needs from a backing store:
// return up to GetDatasetLimit() rows matching the pager's positional
// predicate, in the pager's sort order. Implementations decide dialect,
// index layout and consistency; GORMSource covers gorm-backed stores.
//
// The read should happen at a single consistent snapshot. If the store
// cannot offer snapshot or monotonic-read consistency, the stability
// guarantee degrades to "no duplicates for the already-returned prefix".
type Source[T any] interface {
	Fetch(ctx context.Context, pager *Pager[*KeysetCursor]) ([]T, error)
}

// GORMSource adapts a gorm query into a Source. The wrapped *gorm.DB may
// carry model, table and filter clauses; pagination clauses are appended on
// top of them.
type GORMSource[T any] struct {
	db *gorm.DB
}

func NewGORMSource[T any](db *gorm.DB) *GORMSource[T] {
	return &GORMSource[T]{db: db}
}

// Fetch - implements Source.
func (s *GORMSource[T]) Fetch(ctx context.Context, pager *Pager[*KeysetCursor]) ([]T, error) {
	query, err := pager.Paginate(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	var items []T
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}

	return items, nil
}

// Count returns the total number of records behind the source, ignoring
// pagination. It is deliberately NOT part of Page: a stable total would
// require a full scan on every fetch, which defeats the design. Call it
// separately when a caller truly needs the figure.
func (s *GORMSource[T]) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Count(&total).Error; err != nil {
		return 0, err
	}

	return total, nil
}

// FetchPage translates a request into a bounded, ordered page plus the
// tokens needed to continue.
//
// The orderings define the combined sort key and MUST end with a unique
// column; getters must cover every ordering column. A forward seek returns
// rows strictly after the cursor position, a backward seek returns rows
// strictly before it, fetched in inverse order and reversed before return.
//
// The fetch over-reads by exactly one row to compute HasMore. Inserts after
// the cursor position and deletes outside the returned range never duplicate
// or skip rows between pages. Store errors are passed through unmodified;
// no partial pages are ever returned.
func FetchPage[T any](
	ctx context.Context,
	src Source[T],
	req PageRequest,
	orderBy Orderings,
	getters Getters[T],
) (*Page[T], error) {
	direction := req.Direction
	if direction == "" {
		direction = SeekForward
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid seek direction '%s'", req.Direction)
	}

	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidLimit, req.Limit)
	}
	limit := NormalizeLimit(req.Limit)

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	// A backward seek queries the inverse order; the token operators already
	// encode the direction they continue in, so a mismatched token fails
	// validation instead of silently fetching the wrong half of the dataset.
	effectiveSort := orderBy
	if direction == SeekBackward {
		effectiveSort = orderBy.Reversed()
	}

	pager := NewPager[*KeysetCursor]().
		WithCursor(cursor).
		WithSubstitutedSort(effectiveSort...).
		WithLimit(limit).
		WithLookahead()
	if err := pager.validate(); err != nil {
		return nil, fmt.Errorf("cannot fetch page: %w", err)
	}

	rows, err := src.Fetch(ctx, pager)
	if err != nil {
		return nil, err
	}

	hasMore := !IsLastPage(pager, rows)
	if hasMore {
		rows = TrimResultSet(pager, rows)
	}
	if direction == SeekBackward {
		rows = lo.Reverse(rows)
	}

	page := &Page[T]{
		Items:        rows,
		HasMore:      hasMore,
		AppliedLimit: limit,
	}
	if len(rows) == 0 {
		return page, nil
	}

	resumed := !cursor.IsEmpty()
	first, last := rows[0], rows[len(rows)-1]

	// NextCursor always continues toward the end of the canonical order,
	// PrevCursor toward the start. The token on the requested edge exists
	// only when the lookahead saw a row behind it; the opposite token exists
	// whenever the request itself resumed from a position.
	switch direction {
	case SeekForward:
		if hasMore {
			if page.NextCursor, err = encodePosition(last, orderBy, getters); err != nil {
				return nil, err
			}
		}
		if resumed {
			if page.PrevCursor, err = encodePosition(first, orderBy.Reversed(), getters); err != nil {
				return nil, err
			}
		}
	case SeekBackward:
		if hasMore {
			if page.PrevCursor, err = encodePosition(first, orderBy.Reversed(), getters); err != nil {
				return nil, err
			}
		}
		if resumed {
			if page.NextCursor, err = encodePosition(last, orderBy, getters); err != nil {
				return nil, err
			}
		}
	}

	return page, nil
}

func encodePosition[T any](record T, orderBy Orderings, getters Getters[T]) (string, error) {
	cursor, err := CursorFor(record, orderBy, getters)
	if err != nil {
		return "", err
	}

	return cursor.String(), nil
}
