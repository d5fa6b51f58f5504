package keypager

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// KeysetCursor is a pagination token marking a resume position inside an
// ordered dataset. An empty token means the edge of the dataset in the
// requested direction.
//
// IMPORTANT:
// The token MUST always contain a condition on a unique column, appended
// last. Without the unique tie-break, duplicate values in the leading sort
// columns silently drop or repeat records between pages.
//
// The token consists of a set of conditions of the following form:
//
//	[(C1, O1, V1), (C2, O2, V2)... (Cn, On, Vn)]
//
// The conditions are purely positional: they stay valid even after the record
// they were built from is deleted, because the comparison is against the
// position, not the record itself.
type KeysetCursor struct {
	elements []CursorElement
}

func NewKeysetCursor(elements ...CursorElement) *KeysetCursor {
	return &KeysetCursor{
		elements: elements,
	}
}

// DecodeCursor attempts to parse an encoded (base64) string into *KeysetCursor.
// An empty input decodes to a nil cursor, meaning the first page. Malformed
// input fails with an error wrapping ErrInvalidCursor.
func DecodeCursor(b64String string) (*KeysetCursor, error) {
	if len(b64String) == 0 {
		return nil, nil
	}

	jsonData, err := _encoder.DecodeString(b64String)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 encoded cursor: %w", ErrInvalidCursor, err)
	}

	var elems []CursorElement
	if err = json.Unmarshal(jsonData, &elems); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal json encoded cursor: %w", ErrInvalidCursor, err)
	}

	return &KeysetCursor{
		elements: elems,
	}, nil
}

// String - implements fmt.Stringer. Returns a reversible, URL-safe
// representation of the token. Round-trips exactly through DecodeCursor.
func (c *KeysetCursor) String() string {
	if c == nil || len(c.elements) == 0 {
		return ""
	}

	jTok, err := json.Marshal(c.elements)
	if err != nil {
		panic(fmt.Errorf("cannot marshal cursor value: %w", err))
	}

	var buf bytes.Buffer
	if err = json.Compact(&buf, jTok); err != nil {
		panic(fmt.Errorf("cannot compact cursor value: %w", err))
	}

	return _encoder.EncodeToString(buf.Bytes())
}

// IsEmpty - implements Cursor.
func (c *KeysetCursor) IsEmpty() bool {
	return c == nil || len(c.elements) == 0
}

// GetElements returns the token elements. The elements are a compressed set
// of filtering conditions.
//
// IMPORTANT:
// These conditions cannot be applied to the dataset directly since they are
// not complete. During pagination they are inflated into the full filtering
// predicate, see toDNF.
func (c *KeysetCursor) GetElements() []CursorElement {
	if c == nil {
		return nil
	}

	return c.elements
}

// WithElements sets the token elements manually.
func (c *KeysetCursor) WithElements(elements []CursorElement) *KeysetCursor {
	if c == nil {
		c = new(KeysetCursor)
	}

	c.elements = elements

	return c
}

// Flip returns a copy of the cursor with every comparison operator mirrored.
// A next-page token flips into the token selecting everything before the same
// position.
func (c *KeysetCursor) Flip() *KeysetCursor {
	if c.IsEmpty() {
		return nil
	}

	elements := make([]CursorElement, 0, len(c.elements))
	for _, elem := range c.elements {
		elements = append(elements, CursorElement{
			Column:   elem.Column,
			Value:    elem.Value,
			Operator: elem.Operator.Flip(),
		})
	}

	return &KeysetCursor{elements: elements}
}

// Apply - implements Cursor. Applies the positional filter to a gorm query.
func (c *KeysetCursor) Apply(db *gorm.DB) *gorm.DB {
	exp := c.toDNF().toGORMExpression()
	if exp == nil {
		return db
	}

	return db.Clauses(exp)
}

// ToSQL returns the string representation of the filter as an SQL expression.
//
// Usage:
//
//	query := fmt.Sprintf("SELECT * FROM table WHERE %s", c.ToSQL())
func (c *KeysetCursor) ToSQL() (string, []driver.Value) {
	if c.IsEmpty() {
		return "TRUE", nil
	}

	return c.toDNF().toSQLClause()
}

// toDNF converts KeysetCursor into tDNF.
//
// The token consists of a set of conditions of the following form:
//
//	[(C1, O1, V1), (C2, O2, V2)... (Cn, On, Vn)]
//
// Inflating this set condition by condition produces the filter:
//
//	(C1 O1 V1) or (C1 = V1 and C2 O2 V2) or ...
//
// In this form the token is a DNF sufficient for filtering: it unambiguously
// determines the position from which to continue the selection. A naive
// single-column inequality is NOT sufficient whenever the leading column has
// duplicate values, which is why the full dual-condition expansion is used.
func (c *KeysetCursor) toDNF() tDNF {
	if c.IsEmpty() {
		return nil
	}

	dnf := make(tDNF, 0, len(c.elements))
	for i := range c.elements {
		previousElementsWithEqualityCondition := lo.Map(c.elements[:i], func(item CursorElement, _ int) tConjunct {
			return item.toConjunctWithEqualityCondition()
		})

		disjunct := make([]tConjunct, 0, len(previousElementsWithEqualityCondition)+1)
		disjunct = append(disjunct, previousElementsWithEqualityCondition...)
		disjunct = append(disjunct, tConjunct(c.elements[i]))

		dnf = append(dnf, disjunct)
	}

	return dnf
}

// validate - implements Cursor. Mismatches against the requested orderings
// wrap ErrInvalidCursor: such a token was built for a different sort or a
// different seek direction.
func (c *KeysetCursor) validate(orderings Orderings) error {
	if c.IsEmpty() {
		return nil
	}

	// Disallow arity mismatch between token conditions and the sort list.
	if len(c.elements) != len(orderings) && len(c.elements) != 0 {
		return fmt.Errorf("%w: cursor column number mismatch", ErrInvalidCursor)
	}

	// Every condition must match the ordering at the same position.
	for i := range c.elements {
		cond := c.elements[i]
		orderBy := orderings[i]

		if cond.Column != orderBy.Column {
			return fmt.Errorf("%w: unexpected cursor column '%s'", ErrInvalidCursor, cond.Column)
		}

		if !cond.Operator.Valid() {
			return fmt.Errorf("%w: invalid cursor operator '%s'", ErrInvalidCursor, cond.Operator)
		} else if cond.Operator.ForOrdering() != orderBy.Direction {
			return fmt.Errorf("%w: unexpected cursor operator '%s'", ErrInvalidCursor, cond.Operator)
		}
	}

	return nil
}

var (
	_ Cursor       = (*KeysetCursor)(nil)
	_ fmt.Stringer = (*KeysetCursor)(nil)
)

// Getters is a dictionary of value extractors for a model. List the columns
// the pagination is based on.
// Example:
//
//	keypager.Getters[models.Article]{
//		"id":         func(last models.Article) any { return last.ID },
//		"created_at": func(last models.Article) any { return last.CreatedAt },
//	}
type Getters[T any] map[string]func(T) any

// CursorFor encodes the position of a record under the given orderings into a
// token. The resulting token selects everything strictly after the record's
// position in the given sort order; pass reversed orderings to select
// everything strictly before it.
//
// No side effects, deterministic for a fixed record and orderings.
func CursorFor[T any](record T, orderBy Orderings, getters Getters[T]) (*KeysetCursor, error) {
	ret := KeysetCursor{elements: nil}
	for _, ordering := range orderBy {
		getter, ok := getters[ordering.Column]
		if !ok {
			return nil, fmt.Errorf("cannot find getter for column '%s' met in ordering", ordering.Column)
		}

		ret.elements = append(ret.elements, CursorElement{
			Column:   ordering.Column,
			Value:    getter(record),
			Operator: ordering.Direction.ForOperator(),
		})
	}

	return &ret, nil
}

// NextPageCursor builds the token for the next page of the dataset.
// Returns the trimmed result set along with the token; a nil token signals
// the last page.
func NextPageCursor[T any](
	initialPager *Pager[*KeysetCursor],
	resultSet []T,
	getters Getters[T],
) ([]T, *KeysetCursor, error) {
	err := initialPager.validate()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot build next page cursor: %w", err)
	}

	if IsLastPage(initialPager, resultSet) {
		return resultSet, nil, nil
	}
	resultSet = TrimResultSet(initialPager, resultSet)

	cursor, err := CursorFor(lo.LastOrEmpty(resultSet), initialPager.sort, getters)
	if err != nil {
		return nil, nil, err
	}

	return resultSet, cursor, nil
}

// CursorElement represents a triple (c, v, o), where:
//
//   - "c" - object field.
//   - "v" - value the object field is compared with.
//   - "o" - operator applied to the pair (c, v).
type CursorElement struct {
	Column   string   `json:"c"`
	Value    any      `json:"v"`
	Operator Operator `json:"o"`
}

func (c *CursorElement) toConjunctWithEqualityCondition() tConjunct {
	return tConjunct{
		Column:   c.Column,
		Value:    c.Value,
		Operator: operatorEq,
	}
}
