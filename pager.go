package keypager

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Pager translates a (cursor, limit, orderings) triple into a bounded,
// ordered dataset query. It holds no locks and shares no mutable state
// between calls: all state needed to resume lives in the cursor token.
type Pager[CursorType Cursor] struct {
	lookahead bool
	limit     int
	cursor    CursorType
	sort      Orderings
}

func NewPager[CursorType Cursor]() *Pager[CursorType] {
	return new(Pager[CursorType])
}

// DecodePager decodes a keyset cursor token into *Pager, normalizing the
// limit and validating the token.
func DecodePager(limit int, rawToken string, orderBy ...OrderBy) (*Pager[*KeysetCursor], error) {
	cursor, err := DecodeCursor(rawToken)
	if err != nil {
		return nil, err
	}

	return (&Pager[*KeysetCursor]{
		cursor: cursor,
	}).WithSubstitutedSort(orderBy...).WithLimit(limit), nil
}

// DecodeOffsetPager decodes an offset cursor token into *Pager, normalizing
// the limit and validating the token.
func DecodeOffsetPager(limit int, rawToken string, orderBy ...OrderBy) (*Pager[*OffsetCursor], error) {
	cursor, err := DecodeOffsetCursor(rawToken)
	if err != nil {
		return nil, err
	}

	return (&Pager[*OffsetCursor]{
		cursor: cursor,
	}).WithSubstitutedSort(orderBy...).WithLimit(limit), nil
}

// WithLookahead enables lookahead pagination: the query fetches exactly one
// row beyond the limit to determine whether the current page is the last,
// without a separate count query.
//
// IMPORTANT:
// Cannot be used together with WithUnlimited() or WithLimit(NoLimit).
func (c *Pager[CursorType]) WithLookahead() *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	c.lookahead = true

	return c
}

// WithUnlimited allows returning all records without a limit.
//
// IMPORTANT:
// Cannot be used together with WithLookahead.
func (c *Pager[CursorType]) WithUnlimited() *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	c.limit = NoLimit

	return c
}

// WithLimit sets the maximum number of returned records.
//
// IMPORTANT:
//   - NoLimit cannot be used together with WithLookahead.
//   - If the limit is not NoLimit, NormalizeLimit will be applied.
func (c *Pager[CursorType]) WithLimit(limit int) *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	if limit == NoLimit {
		return c.WithUnlimited()
	}
	c.limit = NormalizeLimit(limit)

	return c
}

// WithCursor sets the cursor explicitly.
func (c *Pager[CursorType]) WithCursor(cursor CursorType) *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	c.cursor = cursor

	return c
}

// WithSubstitutedSort resets previous orderings and applies the provided ones.
func (c *Pager[CursorType]) WithSubstitutedSort(orderBy ...OrderBy) *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	c.sort = nil

	return c.WithSort(orderBy...)
}

// WithSort appends sort orderings without overwriting existing ones.
// Order is preserved as if calling:
//
//	OrderBy(o1).ThenBy(o2).ThenBy(o3)...
func (c *Pager[CursorType]) WithSort(orderBy ...OrderBy) *Pager[CursorType] {
	if c == nil {
		c = new(Pager[CursorType])
	}

	for _, o := range orderBy {
		idx := slices.IndexFunc(c.sort, func(processed OrderBy) bool {
			return processed.Column == o.Column
		})

		// Remove previous occurrence (avoid duplication).
		if idx != -1 {
			c.sort = slices.Delete(c.sort, idx, idx+1)
		}

		c.sort = append(c.sort, o)
	}

	return c
}

// Paginate applies pagination to the dataset. Returns an error if pagination
// cannot be applied.
func (c *Pager[CursorType]) Paginate(db *gorm.DB) (*gorm.DB, error) {
	if c == nil {
		c = new(Pager[CursorType])
	}

	err := c.validate()
	if err != nil {
		return nil, fmt.Errorf("cannot paginate: %w", err)
	}

	db = c.sort.Apply(db)
	db = c.cursor.Apply(db)

	// Apply limit to the dataset. When lookahead is enabled, fetch one extra
	// record to determine if there is a next page.
	if c.limit != NoLimit {
		db = db.Limit(c.GetDatasetLimit())
	}

	return db, nil
}

// GetSort returns orderings that will be applied to the dataset.
func (c *Pager[CursorType]) GetSort() Orderings {
	if c == nil {
		return nil
	}

	return c.sort
}

// IsUnlimited returns true if the limit equals NoLimit (unbounded number of records).
func (c *Pager[CursorType]) IsUnlimited() bool {
	if c == nil {
		return false
	}

	return c.limit == NoLimit
}

// IsLookahead returns true if lookahead pagination is enabled.
func (c *Pager[CursorType]) IsLookahead() bool {
	if c == nil {
		return false
	}

	return c.lookahead
}

// GetLimit returns the limit as it is stored in Pager.
// The return value is >= 0. Returning NoLimit is equivalent to no limit.
func (c *Pager[CursorType]) GetLimit() int {
	if c == nil {
		return 0
	}

	return c.limit
}

// GetCursor returns the cursor stored in Pager as-is.
func (c *Pager[CursorType]) GetCursor() CursorType {
	if c == nil {
		return lo.Empty[CursorType]()
	}

	return c.cursor
}

// GetDatasetLimit returns the limit adjusted for lookahead:
//   - if Lookahead = true → GetLimit() + 1
//   - if Lookahead = false → GetLimit()
func (c *Pager[CursorType]) GetDatasetLimit() int {
	limit := c.GetLimit()
	isLookahead := c.IsLookahead()

	return lo.Ternary(isLookahead, limit+1, limit)
}

func (c *Pager[_]) validate() error {
	if c == nil {
		return fmt.Errorf("pager is nil")
	}

	if c.limit == NoLimit && c.lookahead {
		return fmt.Errorf("cannot apply lookahead to unlimited paging")
	}

	err := c.sort.validate()
	if err != nil {
		return err
	}

	return c.cursor.validate(c.sort)
}

// IsLastPage returns true if the result set is the last page in the dataset.
//
// The last page is determined by one of two conditions:
//  1. The number of returned records is less than Limit.
//  2. Lookahead = true and the number of returned records is less than or equal to Limit.
//
// In these cases, return the result set unchanged with an empty token to
// signal the end of the dataset to the client.
func IsLastPage[CursorType Cursor, T any](initialPager *Pager[CursorType], resultSet []T) bool {
	return len(resultSet) < initialPager.limit ||
		(initialPager.lookahead && len(resultSet) <= initialPager.limit)
}

// TrimResultSet trims the result set to what should be returned to the client.
//
// If lookahead = true, drop the last element before returning. Suppose
// resultSet = [a, b, c].
//
//   - With lookahead → resultSet becomes [a, b].
//   - Without lookahead → resultSet remains unchanged.
//
// This enables building pagination based on a STRICT comparison with the
// last element of the result set.
func TrimResultSet[CursorType Cursor, T any](initialPager *Pager[CursorType], resultSet []T) []T {
	if initialPager.lookahead {
		resultSet = resultSet[:len(resultSet)-1]
	}

	return resultSet
}
