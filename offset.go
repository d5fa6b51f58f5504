package keypager

import (
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// OffsetCursor is used when an API requires cursor-based pagination but only
// LIMIT/OFFSET pagination is available in the backing store.
//
// It implements Cursor and generates a token based on the last offset within
// the dataset.
//
// IMPORTANT:
// Unlike KeysetCursor, an offset token does NOT carry the stability
// guarantee: concurrent inserts and deletes before the offset shift page
// boundaries, so rows may repeat or go missing between pages.
type OffsetCursor struct {
	offset int
}

func NewOffsetCursor(offset int) *OffsetCursor {
	return &OffsetCursor{
		offset: offset,
	}
}

// DecodeOffsetCursor attempts to parse a base64-encoded string into *OffsetCursor.
func DecodeOffsetCursor(b64String string) (*OffsetCursor, error) {
	if len(b64String) == 0 {
		return nil, nil
	}

	offsetBytes, err := _encoder.DecodeString(b64String)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 encoded offset cursor: %w", ErrInvalidCursor, err)
	}

	offset, err := strconv.Atoi(string(offsetBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode offset cursor value: %w", ErrInvalidCursor, err)
	}

	return &OffsetCursor{
		offset: offset,
	}, nil
}

// ToSQL returns the string form of the numeric offset value.
//
// Usage:
//
//	query := fmt.Sprintf("SELECT * FROM table OFFSET %s", c.ToSQL())
func (c *OffsetCursor) ToSQL() string {
	return strconv.Itoa(c.offset)
}

// String - implements fmt.Stringer.
func (c *OffsetCursor) String() string {
	if c == nil || c.offset == 0 {
		return ""
	}

	return _encoder.EncodeToString([]byte(strconv.Itoa(c.offset)))
}

// IsEmpty - implements Cursor.
func (c *OffsetCursor) IsEmpty() bool {
	return c == nil || c.offset == 0
}

// Apply - implements Cursor. Applies the offset to a gorm query.
func (c *OffsetCursor) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(c.GetOffset())
}

// GetOffset returns the numeric offset value.
func (c *OffsetCursor) GetOffset() int {
	if c != nil {
		return c.offset
	}

	return 0
}

// WithOffset sets the numeric offset value and returns the cursor.
func (c *OffsetCursor) WithOffset(offset int) *OffsetCursor {
	if c == nil {
		c = new(OffsetCursor)
	}

	c.offset = offset

	return c
}

// validate - implements Cursor.
func (c *OffsetCursor) validate(_ Orderings) error {
	return nil
}

var (
	_ Cursor       = (*OffsetCursor)(nil)
	_ fmt.Stringer = (*OffsetCursor)(nil)
)

// NextPageOffsetCursor builds an offset token for the next page of the dataset.
func NextPageOffsetCursor[T any](
	initialPager *Pager[*OffsetCursor],
	resultSet []T,
) ([]T, *OffsetCursor, error) {
	err := initialPager.validate()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot build next page offset cursor: %w", err)
	}

	if IsLastPage(initialPager, resultSet) {
		return resultSet, nil, nil
	}
	resultSet = TrimResultSet(initialPager, resultSet)

	return resultSet,
		&OffsetCursor{
			offset: initialPager.cursor.GetOffset() + len(resultSet),
		},
		nil
}
