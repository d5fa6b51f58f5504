package keypager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedItem models a record with a non-unique leading sort component (T) and a
// unique tie-break (ID).
type feedItem struct {
	T  int
	ID int
}

var feedOrder = Orderings{
	{Column: "t", Direction: DirectionASC},
	{Column: "id", Direction: DirectionASC},
}

var feedGetters = Getters[feedItem]{
	"t":  func(i feedItem) any { return i.T },
	"id": func(i feedItem) any { return i.ID },
}

// memorySource is a mutable in-memory Source. It evaluates the cursor's
// positional predicate over the current snapshot of the slice, which lets the
// tests mutate the dataset between fetches the way concurrent writers would.
type memorySource struct {
	items []feedItem
}

func (s *memorySource) Fetch(_ context.Context, pager *Pager[*KeysetCursor]) ([]feedItem, error) {
	rows := make([]feedItem, len(s.items))
	copy(rows, s.items)

	ord := pager.GetSort()
	sort.SliceStable(rows, func(i, j int) bool {
		return lessByOrderings(rows[i], rows[j], ord)
	})

	if cursor := pager.GetCursor(); !cursor.IsEmpty() {
		filtered := make([]feedItem, 0, len(rows))
		for _, row := range rows {
			if matchesCursor(row, cursor) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if limit := pager.GetDatasetLimit(); limit != NoLimit && len(rows) > limit {
		rows = rows[:limit]
	}

	return rows, nil
}

func (s *memorySource) insert(item feedItem) { s.items = append(s.items, item) }

func (s *memorySource) delete(id int) {
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func fieldValue(row feedItem, column string) int {
	switch column {
	case "t":
		return row.T
	case "id":
		return row.ID
	default:
		panic(fmt.Errorf("unknown column '%s'", column))
	}
}

// compareValues compares a row field against a cursor value. Values that went
// through a token round-trip come back as float64 (JSON numbers).
func compareValues(field int, cursorValue any) int {
	var other float64
	switch vt := cursorValue.(type) {
	case float64:
		other = vt
	case int:
		other = float64(vt)
	default:
		panic(fmt.Errorf("unexpected cursor value type %T", cursorValue))
	}

	switch {
	case float64(field) < other:
		return -1
	case float64(field) > other:
		return 1
	default:
		return 0
	}
}

func matchesCursor(row feedItem, cursor *KeysetCursor) bool {
	for _, disjunct := range cursor.toDNF() {
		ok := true
		for _, conjunct := range disjunct {
			cmp := compareValues(fieldValue(row, conjunct.Column), conjunct.Value)
			switch conjunct.Operator {
			case OperatorGT:
				ok = cmp > 0
			case OperatorLT:
				ok = cmp < 0
			case operatorEq:
				ok = cmp == 0
			default:
				panic(fmt.Errorf("unexpected operator '%s'", conjunct.Operator))
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}

	return false
}

func lessByOrderings(a, b feedItem, ord Orderings) bool {
	for _, o := range ord {
		av, bv := fieldValue(a, o.Column), fieldValue(b, o.Column)
		if av == bv {
			continue
		}
		if o.Direction == DirectionASC {
			return av < bv
		}
		return av > bv
	}

	return false
}

func requireItems(t *testing.T, page *Page[feedItem], want ...feedItem) {
	t.Helper()
	require.Equal(t, want, page.Items)
}

func Test_FetchPage_WalkScenario(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{
		{T: 1, ID: 1}, {T: 1, ID: 2}, {T: 2, ID: 3}, {T: 2, ID: 4}, {T: 3, ID: 5},
	}}

	page1, err := FetchPage(ctx, src, PageRequest{Limit: 2}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page1, feedItem{1, 1}, feedItem{1, 2})
	require.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)
	require.Empty(t, page1.PrevCursor, "absolute start has no prev token")

	// The token encodes the position of the last returned item.
	decoded, err := DecodeCursor(page1.NextCursor)
	require.NoError(t, err)
	require.Equal(t, []CursorElement{
		{Column: "t", Value: float64(1), Operator: OperatorGT},
		{Column: "id", Value: float64(2), Operator: OperatorGT},
	}, decoded.GetElements())

	page2, err := FetchPage(ctx, src, PageRequest{Limit: 2, Cursor: page1.NextCursor}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page2, feedItem{2, 3}, feedItem{2, 4})
	require.True(t, page2.HasMore)
	require.NotEmpty(t, page2.PrevCursor)

	page3, err := FetchPage(ctx, src, PageRequest{Limit: 2, Cursor: page2.NextCursor}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page3, feedItem{3, 5})
	require.False(t, page3.HasMore)
	require.Empty(t, page3.NextCursor)

	// Walking back from page 2 lands exactly on page 1.
	back, err := FetchPage(
		ctx,
		src,
		PageRequest{Limit: 2, Cursor: page2.PrevCursor, Direction: SeekBackward},
		feedOrder,
		feedGetters,
	)
	require.NoError(t, err)
	requireItems(t, back, feedItem{1, 1}, feedItem{1, 2})
	require.False(t, back.HasMore, "nothing before the first page")
	require.Empty(t, back.PrevCursor)
	require.NotEmpty(t, back.NextCursor, "a resumed page always links forward")
}

func Test_FetchPage_NoDuplicationUnderInsert(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{
		{T: 1, ID: 1}, {T: 2, ID: 2}, {T: 3, ID: 3}, {T: 4, ID: 4},
	}}

	page1, err := FetchPage(ctx, src, PageRequest{Limit: 2}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page1, feedItem{1, 1}, feedItem{2, 2})

	// A writer inserts a record whose position falls inside the already
	// returned range. It must not surface on the next page and must not push
	// an already seen record back into view.
	src.insert(feedItem{T: 1, ID: 9})

	page2, err := FetchPage(ctx, src, PageRequest{Limit: 2, Cursor: page1.NextCursor}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page2, feedItem{3, 3}, feedItem{4, 4})
}

func Test_FetchPage_NoLossUnderDelete(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{
		{T: 1, ID: 1}, {T: 2, ID: 2}, {T: 3, ID: 3}, {T: 4, ID: 4},
	}}

	page1, err := FetchPage(ctx, src, PageRequest{Limit: 2}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page1, feedItem{1, 1}, feedItem{2, 2})

	// Deleting the record the token was built from does not invalidate the
	// token: the comparison is positional, not existence-based. The record
	// that used to follow it opens the next page, with no gap and no repeat.
	src.delete(2)

	page2, err := FetchPage(ctx, src, PageRequest{Limit: 2, Cursor: page1.NextCursor}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, page2, feedItem{3, 3}, feedItem{4, 4})
}

func Test_FetchPage_HasMoreBoundary(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name            string
		remaining       int
		expectedHasMore bool
	}{
		{"exactly limit remaining -> no more", 2, false},
		{"limit+1 remaining -> has more", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memorySource{}
			for i := 1; i <= tt.remaining; i++ {
				src.insert(feedItem{T: i, ID: i})
			}

			page, err := FetchPage(ctx, src, PageRequest{Limit: 2}, feedOrder, feedGetters)
			require.NoError(t, err)
			require.Len(t, page.Items, 2)
			require.Equal(t, tt.expectedHasMore, page.HasMore)
			if tt.expectedHasMore {
				require.NotEmpty(t, page.NextCursor)
			} else {
				require.Empty(t, page.NextCursor)
			}
		})
	}
}

func Test_FetchPage_TieBreakChaining(t *testing.T) {
	ctx := context.Background()

	// Five records share one leading sort value; only the unique tie-break
	// separates them. Chaining pages must visit each exactly once, in order.
	src := &memorySource{}
	for id := 1; id <= 5; id++ {
		src.insert(feedItem{T: 7, ID: id})
	}

	var (
		seen  []int
		token string
	)
	for i := 0; i < 3; i++ {
		page, err := FetchPage(ctx, src, PageRequest{Limit: 2, Cursor: token}, feedOrder, feedGetters)
		require.NoError(t, err)
		for _, item := range page.Items {
			seen = append(seen, item.ID)
		}
		token = page.NextCursor
	}

	require.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	require.Empty(t, token)
}

func Test_FetchPage_BackwardWalk(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{
		{T: 1, ID: 1}, {T: 1, ID: 2}, {T: 2, ID: 3}, {T: 2, ID: 4}, {T: 3, ID: 5},
	}}

	// No cursor with a backward seek starts from the end of the dataset.
	tail, err := FetchPage(ctx, src, PageRequest{Limit: 2, Direction: SeekBackward}, feedOrder, feedGetters)
	require.NoError(t, err)
	requireItems(t, tail, feedItem{2, 4}, feedItem{3, 5})
	require.True(t, tail.HasMore)
	require.NotEmpty(t, tail.PrevCursor)
	require.Empty(t, tail.NextCursor, "absolute end has no next token")

	middle, err := FetchPage(
		ctx,
		src,
		PageRequest{Limit: 2, Cursor: tail.PrevCursor, Direction: SeekBackward},
		feedOrder,
		feedGetters,
	)
	require.NoError(t, err)
	requireItems(t, middle, feedItem{1, 2}, feedItem{2, 3})
	require.True(t, middle.HasMore)
	require.NotEmpty(t, middle.NextCursor)

	head, err := FetchPage(
		ctx,
		src,
		PageRequest{Limit: 2, Cursor: middle.PrevCursor, Direction: SeekBackward},
		feedOrder,
		feedGetters,
	)
	require.NoError(t, err)
	requireItems(t, head, feedItem{1, 1})
	require.False(t, head.HasMore)
	require.Empty(t, head.PrevCursor)

	// Pages stay in canonical ascending order in both directions.
	for _, page := range []*Page[feedItem]{tail, middle, head} {
		for i := 1; i < len(page.Items); i++ {
			require.True(t, lessByOrderings(page.Items[i-1], page.Items[i], feedOrder))
		}
	}
}

func Test_FetchPage_EmptyDataset(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{}

	page, err := FetchPage(ctx, src, PageRequest{Limit: 2}, feedOrder, feedGetters)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.False(t, page.HasMore)
	require.Empty(t, page.NextCursor)
	require.Empty(t, page.PrevCursor)
}

func Test_FetchPage_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{{T: 1, ID: 1}}}

	page, err := FetchPage(ctx, src, PageRequest{Limit: MaxLimit + 500}, feedOrder, feedGetters)
	require.NoError(t, err)
	require.Equal(t, MaxLimit, page.AppliedLimit)
}

func Test_FetchPage_Errors(t *testing.T) {
	ctx := context.Background()
	src := &memorySource{items: []feedItem{{T: 1, ID: 1}}}

	tests := []struct {
		name     string
		req      PageRequest
		expected error
	}{
		{"zero limit", PageRequest{Limit: 0}, ErrInvalidLimit},
		{"negative limit", PageRequest{Limit: -5}, ErrInvalidLimit},
		{"garbage cursor", PageRequest{Limit: 2, Cursor: "%%%broken%%%"}, ErrInvalidCursor},
		{
			"cursor for a different sort",
			PageRequest{
				Limit: 2,
				Cursor: NewKeysetCursor(
					CursorElement{Column: "name", Value: "abc", Operator: OperatorGT},
					CursorElement{Column: "id", Value: 1, Operator: OperatorGT},
				).String(),
			},
			ErrInvalidCursor,
		},
		{
			"forward token with a backward seek",
			PageRequest{
				Limit: 2,
				Cursor: NewKeysetCursor(
					CursorElement{Column: "t", Value: 1, Operator: OperatorGT},
					CursorElement{Column: "id", Value: 1, Operator: OperatorGT},
				).String(),
				Direction: SeekBackward,
			},
			ErrInvalidCursor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchPage(ctx, src, tt.req, feedOrder, feedGetters)
			require.Error(t, err)
			require.ErrorIs(t, err, tt.expected)
		})
	}

	t.Run("invalid direction", func(t *testing.T) {
		_, err := FetchPage(ctx, src, PageRequest{Limit: 2, Direction: "sideways"}, feedOrder, feedGetters)
		require.Error(t, err)
	})
}

// failingSource verifies that store errors pass through FetchPage unmodified
// and that no partial page comes back with them.
type failingSource struct{ err error }

func (s *failingSource) Fetch(context.Context, *Pager[*KeysetCursor]) ([]feedItem, error) {
	return nil, s.err
}

func Test_FetchPage_StoreErrorPassthrough(t *testing.T) {
	storeErr := errors.New("connection reset")
	src := &failingSource{err: storeErr}

	page, err := FetchPage(context.Background(), src, PageRequest{Limit: 2}, feedOrder, feedGetters)
	require.Nil(t, page)
	require.ErrorIs(t, err, storeErr)
}

func Test_FetchPage_GORMSource(t *testing.T) {
	type tUser struct {
		ID uint
	}

	_, db, dbMock, err := newGORMPostgresMock()
	require.NoError(t, err)

	// Lookahead over-fetches exactly one row beyond the limit.
	dbMock.
		ExpectQuery("^SELECT \\* FROM [`'\"]users[`'\"] ORDER BY id ASC LIMIT 3$").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	src := NewGORMSource[tUser](db.Table("users"))
	page, err := FetchPage(
		context.Background(),
		src,
		PageRequest{Limit: 2},
		Orderings{{Column: "id", Direction: DirectionASC}},
		Getters[tUser]{"id": func(u tUser) any { return u.ID }},
	)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)

	decoded, err := DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "id", decoded.GetElements()[0].Column)
	require.Equal(t, float64(2), decoded.GetElements()[0].Value)

	assert.NoError(t, dbMock.ExpectationsWereMet())
}
