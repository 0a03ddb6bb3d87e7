package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/testutil"
)

func TestReplicateSchema(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "customers", 1, 0)
	seedTable(src, "shop", "orders", 1, 0)
	seedTable(src, "shop", "broken", 1, 0)
	seedTable(src, "shop", "invoices", 1, 0)
	dst.AddDatabase("shop", "utf8mb4")

	src.DDLErr = map[string]error{"broken": errors.New("access denied")}
	dst.ExecHook = func(db, stmt string) error {
		if strings.Contains(stmt, "`orders`") {
			return errors.New("Failed to open the referenced table 'customers_v2'")
		}
		return nil
	}

	sink := &faultlog.MemorySink{}
	ctx := context.Background()
	tables, err := ReplicateSchema(ctx, "shop", connect(t, src, "shop"), connect(t, dst, "shop"), sink)
	require.NoError(t, err)

	require.Len(t, tables, 4)
	names := make([]string, len(tables))
	for i, d := range tables {
		names[i] = d.Name
		assert.Equal(t, "shop", d.Database)
	}
	assert.Equal(t, []string{"customers", "orders", "broken", "invoices"}, names)
	assert.True(t, tables[0].SchemaApplied)
	assert.False(t, tables[1].SchemaApplied)
	assert.NotEmpty(t, tables[1].DDL)
	assert.False(t, tables[2].SchemaApplied)
	assert.Empty(t, tables[2].DDL)
	assert.True(t, tables[3].SchemaApplied)

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, faultlog.ScopeSchema, records[0].Scope)
	assert.Equal(t, "orders", records[0].Table)
	assert.Equal(t, "broken", records[1].Table)

	_, ok := dst.Table("shop", "customers")
	assert.True(t, ok)
	_, ok = dst.Table("shop", "orders")
	assert.False(t, ok)
}

func TestReplicateSchema_ListFailure(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	src.AddDatabase("shop", "utf8mb4")
	dst.AddDatabase("shop", "utf8mb4")
	src.TablesErr = errors.New("connection reset")

	sink := &faultlog.MemorySink{}
	_, err := ReplicateSchema(context.Background(), "shop", connect(t, src, "shop"), connect(t, dst, "shop"), sink)
	assert.Error(t, err)
	assert.Zero(t, sink.Count(""))
}

func TestReplicateSchema_RerunKeepsExistingTables(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 3, 4)
	dst.AddDatabase("shop", "utf8mb4")
	ctx := context.Background()
	srcSess, dstSess := connect(t, src, "shop"), connect(t, dst, "shop")

	_, err := ReplicateSchema(ctx, "shop", srcSess, dstSess, faultlog.Discard)
	require.NoError(t, err)
	job := runningJob(t, "shop", "orders", 10)
	w := &Writer{Sink: faultlog.Discard}
	require.NoError(t, w.Write(ctx, dstSess, job, StreamRows(ctx, srcSess, "orders"), AutoIncrement{}))

	sink := &faultlog.MemorySink{}
	tables, err := ReplicateSchema(ctx, "shop", srcSess, dstSess, sink)
	require.NoError(t, err)
	assert.False(t, tables[0].SchemaApplied)
	assert.Equal(t, 1, sink.Count(faultlog.ScopeSchema))

	tbl, ok := dst.Table("shop", "orders")
	require.True(t, ok)
	assert.Len(t, tbl.Rows, 3)
}
