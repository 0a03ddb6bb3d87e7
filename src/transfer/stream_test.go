package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/testutil"
)

func TestStreamRows(t *testing.T) {
	src := testutil.NewServer()
	seedTable(src, "shop", "orders", 3, 0)
	sess := connect(t, src, "shop")

	rows := StreamRows(context.Background(), sess, "orders")
	assert.Zero(t, src.OpenCursors(), "cursor must not be opened before iteration")

	var got []map[string]any
	for row, err := range rows {
		require.NoError(t, err)
		got = append(got, row.Map())
	}
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "note": "row-1"},
		{"id": int64(2), "note": "row-2"},
		{"id": int64(3), "note": "row-3"},
	}, got)
	assert.Zero(t, src.OpenCursors())

	// 只能遍历一次
	for _, err := range rows {
		assert.ErrorIs(t, err, ErrStreamConsumed)
	}
}

func TestStreamRows_FetchesOneRowAtATime(t *testing.T) {
	const total = 20000
	src := testutil.NewServer()
	seedTable(src, "shop", "orders", total, 0)
	sess := connect(t, src, "shop")

	var consumed, ahead int64
	for _, err := range StreamRows(context.Background(), sess, "orders") {
		require.NoError(t, err)
		consumed++
		ahead = max(ahead, src.FetchedRows()-consumed)
	}
	assert.Equal(t, int64(total), consumed)
	// 服务端取出的行数从不超过调用方已经拿到的行数
	assert.Zero(t, ahead)
	assert.Zero(t, src.OpenCursors())
}

func TestStreamRows_EarlyBreakClosesCursor(t *testing.T) {
	src := testutil.NewServer()
	seedTable(src, "shop", "orders", 100, 0)
	sess := connect(t, src, "shop")

	n := 0
	for _, err := range StreamRows(context.Background(), sess, "orders") {
		require.NoError(t, err)
		n++
		assert.Equal(t, 1, src.OpenCursors())
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Zero(t, src.OpenCursors())
}

func TestStreamRows_FetchError(t *testing.T) {
	src := testutil.NewServer()
	seedTable(src, "shop", "orders", 5, 0)
	src.StreamErrAt = map[string]int{"orders": 3}
	sess := connect(t, src, "shop")

	var ids []any
	var errs []error
	for row, err := range StreamRows(context.Background(), sess, "orders") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, row.Values[0])
	}
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids)
	require.Len(t, errs, 1)
	assert.Zero(t, src.OpenCursors())
}

func TestStreamRows_UnknownTable(t *testing.T) {
	src := testutil.NewServer()
	src.AddDatabase("shop", "utf8mb4")
	sess := connect(t, src, "shop")

	var errs []error
	for _, err := range StreamRows(context.Background(), sess, "missing") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Zero(t, src.OpenCursors())
}
