// Package dbconn 封装迁移引擎与数据库服务器之间的会话
// 每个 Session 固定在一条服务器连接上，会话级设置（如外键检查）只影响该连接
package dbconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ConnectionProfile 连接配置，按值传递，每个 worker 基于它打开自己的连接
type ConnectionProfile struct {
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"password" json:"-"`
	Database string            `yaml:"database" json:"database"`
	Params   map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// WithDatabase 返回指定了数据库名的副本
func (p ConnectionProfile) WithDatabase(name string) ConnectionProfile {
	p.Database = name
	p.Params = cloneParams(p.Params)
	return p
}

// Addr 返回 host:port
func (p ConnectionProfile) Addr() string {
	port := p.Port
	if port == 0 {
		port = 3306
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// String 返回不含密码的描述，用于日志
func (p ConnectionProfile) String() string {
	if p.Database == "" {
		return fmt.Sprintf("%s@%s", p.User, p.Addr())
	}
	return fmt.Sprintf("%s@%s/%s", p.User, p.Addr(), p.Database)
}

func cloneParams(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Row 一行数据，Columns 与 Values 一一对应，保持源表列顺序
type Row struct {
	Columns []string
	Values  []any
}

// Map 返回列名到值的映射
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// RowCursor 服务端游标，逐行读取
type RowCursor interface {
	Next() bool
	Row() (Row, error)
	Err() error
	Close() error
}

// Session 一条固定的服务器会话
type Session interface {
	// Databases 列出服务器上的所有数据库
	Databases(ctx context.Context) ([]string, error)
	// Tables 列出当前数据库中的基础表（不含视图）
	Tables(ctx context.Context) ([]string, error)
	// CreateTableStatement 返回表的建表语句
	CreateTableStatement(ctx context.Context, table string) (string, error)
	// CountRows 统计表的行数
	CountRows(ctx context.Context, table string) (int64, error)
	// AutoIncrement 返回表当前的自增值，ok 为 false 表示表没有自增列
	AutoIncrement(ctx context.Context, table string) (value uint64, ok bool, err error)
	// StreamRows 以流式方式读取整张表
	StreamRows(ctx context.Context, table string) (RowCursor, error)
	// Exec 执行任意语句（用于回放 DDL）
	Exec(ctx context.Context, stmt string) error
	// InsertRow 插入单行
	InsertRow(ctx context.Context, table string, row Row) error
	// SetForeignKeyChecks 设置当前会话的外键检查
	SetForeignKeyChecks(ctx context.Context, enabled bool) error
	// SetAutoIncrement 设置表的自增起始值
	SetAutoIncrement(ctx context.Context, table string, value uint64) error
	// DatabaseCharset 返回数据库的默认字符集
	DatabaseCharset(ctx context.Context, database string) (string, error)
	// EnsureDatabase 确保数据库存在
	EnsureDatabase(ctx context.Context, database, charset string) error
	// ServerVersion 返回服务器版本字符串
	ServerVersion(ctx context.Context) (string, error)
	// Close 关闭会话
	Close() error
}

// Connector 建立会话，不做连接池与重试
type Connector interface {
	Connect(ctx context.Context, profile ConnectionProfile) (Session, error)
}

// ConnectError 建立连接失败
type ConnectError struct {
	Profile ConnectionProfile
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Profile, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// QueryError 语句执行失败
type QueryError struct {
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Statement, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// QuoteIdentifier 使用反引号引用标识符
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
