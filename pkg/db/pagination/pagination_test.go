package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id int64 }

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 9000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}

func TestBuildCursorPageInfoRoundTrip(t *testing.T) {
	rows := []*row{{id: 9}, {id: 8}, {id: 7}}
	page, info := BuildCursorPageInfo(rows, 2, func(r *row) int64 { return r.id })

	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	after, err := Pagination{PageToken: info.NextPageToken}.AfterID()
	require.NoError(t, err)
	assert.Equal(t, int64(8), after)
}

func TestBuildCursorPageInfoLastPage(t *testing.T) {
	page, info := BuildCursorPageInfo([]*row{{id: 1}}, 5, func(r *row) int64 { return r.id })
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestAfterIDRejectsGarbage(t *testing.T) {
	_, err := Pagination{PageToken: "%%%"}.AfterID()
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}
