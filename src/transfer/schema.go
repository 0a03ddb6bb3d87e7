package transfer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
)

// ReplicateSchema 按源端列举顺序在目标端回放每张基础表的建表语句
// 列举失败直接返回错误；单张表的语句读取或执行失败只记录到 sink 并继续
// 返回的列表包含所有表，无论建表是否成功
func ReplicateSchema(ctx context.Context, database string, src, dst dbconn.Session, sink faultlog.Sink) ([]TableDescriptor, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", database, err)
	}
	logger := logrus.WithFields(logrus.Fields{
		"component": "schema",
		"database":  database,
	})

	descriptors := make([]TableDescriptor, 0, len(tables))
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return descriptors, err
		}
		d := TableDescriptor{Database: database, Name: name}
		ddl, err := src.CreateTableStatement(ctx, name)
		if err != nil {
			sink.Append(faultlog.NewRecord(faultlog.ScopeSchema, database, name, err))
			logger.WithError(err).WithField("table", name).Warn("failed to read table definition")
			descriptors = append(descriptors, d)
			continue
		}
		d.DDL = ddl
		if err := dst.Exec(ctx, ddl); err != nil {
			sink.Append(faultlog.NewRecord(faultlog.ScopeSchema, database, name, err))
			logger.WithError(err).WithField("table", name).Warn("failed to create table on target")
		} else {
			d.SchemaApplied = true
			logger.WithField("table", name).Debug("table created")
		}
		descriptors = append(descriptors, d)
	}
	logger.WithField("tables", len(descriptors)).Info("schema replicated")
	return descriptors, nil
}
