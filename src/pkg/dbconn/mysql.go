package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var autoIncrementPattern = regexp.MustCompile(`(?i)\bAUTO_INCREMENT=(\d+)`)

var charsetPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// StallTimeoutSeconds 暂停期间会话可以保持空闲的秒数，取服务器允许的最大值
// 流式读取时服务端受 net_write_timeout 约束，空闲会话受 wait_timeout 约束
const StallTimeoutSeconds = 31536000

// MySQLConnector 基于 go-sql-driver/mysql 的连接器
type MySQLConnector struct {
	// Timeout 建立连接的超时时间
	Timeout time.Duration
}

// NewMySQLConnector 创建 MySQL 连接器
func NewMySQLConnector() *MySQLConnector {
	return &MySQLConnector{Timeout: 10 * time.Second}
}

// Config 把连接配置转换为驱动配置
func (c *MySQLConnector) Config(profile ConnectionProfile) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = profile.User
	cfg.Passwd = profile.Password
	cfg.Net = "tcp"
	cfg.Addr = profile.Addr()
	cfg.DBName = profile.Database
	cfg.Timeout = c.Timeout
	// 单行插入走客户端插值，避免每行一次 prepare
	cfg.InterpolateParams = true
	cfg.Params = cloneParams(profile.Params)
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	// 驱动在建连后把未知参数作为会话变量 SET，暂停期间目标端会话不会被服务器断开
	if _, ok := cfg.Params["wait_timeout"]; !ok {
		cfg.Params["wait_timeout"] = strconv.Itoa(StallTimeoutSeconds)
	}
	return cfg
}

// Connect 打开一条独立的服务器会话
func (c *MySQLConnector) Connect(ctx context.Context, profile ConnectionProfile) (Session, error) {
	connector, err := mysql.NewConnector(c.Config(profile))
	if err != nil {
		return nil, &ConnectError{Profile: profile, Err: err}
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := NewSession(ctx, db)
	if err != nil {
		db.Close()
		return nil, &ConnectError{Profile: profile, Err: err}
	}
	return s, nil
}

// NewSession 从 *sql.DB 上取出一条固定连接构造会话，会话关闭时一并关闭 db
func NewSession(ctx context.Context, db *sql.DB) (Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &mysqlSession{db: db, conn: conn}, nil
}

type mysqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *mysqlSession) queryStrings(ctx context.Context, stmt string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &QueryError{Statement: stmt, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Statement: stmt, Err: err}
	}
	dest := make([]any, len(cols))
	var first string
	dest[0] = &first
	for i := 1; i < len(cols); i++ {
		dest[i] = new(sql.RawBytes)
	}

	var result []string
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{Statement: stmt, Err: err}
		}
		result = append(result, first)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Statement: stmt, Err: err}
	}
	return result, nil
}

func (s *mysqlSession) Databases(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SHOW DATABASES")
}

func (s *mysqlSession) Tables(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'")
}

func (s *mysqlSession) CreateTableStatement(ctx context.Context, table string) (string, error) {
	stmt := "SHOW CREATE TABLE " + QuoteIdentifier(table)
	var name, ddl string
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&name, &ddl); err != nil {
		return "", &QueryError{Statement: stmt, Err: err}
	}
	return ddl, nil
}

func (s *mysqlSession) CountRows(ctx context.Context, table string) (int64, error) {
	stmt := "SELECT COUNT(*) FROM " + QuoteIdentifier(table)
	var n int64
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, &QueryError{Statement: stmt, Err: err}
	}
	return n, nil
}

// AutoIncrement 从建表语句中解析自增值
// information_schema 在 8.0 上有统计缓存，建表语句总是实时的
func (s *mysqlSession) AutoIncrement(ctx context.Context, table string) (uint64, bool, error) {
	ddl, err := s.CreateTableStatement(ctx, table)
	if err != nil {
		return 0, false, err
	}
	return ParseAutoIncrement(ddl)
}

// ParseAutoIncrement 解析建表语句中的 AUTO_INCREMENT=N
func ParseAutoIncrement(ddl string) (uint64, bool, error) {
	m := autoIncrementPattern.FindStringSubmatch(ddl)
	if m == nil {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse auto increment %q: %w", m[1], err)
	}
	return v, v > 0, nil
}

// StreamRows 以非缓冲方式读取整表
// 读取方在行间可能因暂停而长时间阻塞，先放宽 net_write_timeout，否则服务端会中断结果集
func (s *mysqlSession) StreamRows(ctx context.Context, table string) (RowCursor, error) {
	if err := s.Exec(ctx, fmt.Sprintf("SET SESSION net_write_timeout = %d", StallTimeoutSeconds)); err != nil {
		return nil, err
	}
	stmt := "SELECT * FROM " + QuoteIdentifier(table)
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, &QueryError{Statement: stmt, Err: err}
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, &QueryError{Statement: stmt, Err: err}
	}
	return &sqlCursor{rows: rows, columns: cols}, nil
}

func (s *mysqlSession) Exec(ctx context.Context, stmt string) error {
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return &QueryError{Statement: stmt, Err: err}
	}
	return nil
}

// InsertStatement 构造单行插入语句
func InsertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(table), strings.Join(quoted, ", "), placeholders)
}

func (s *mysqlSession) InsertRow(ctx context.Context, table string, row Row) error {
	stmt := InsertStatement(table, row.Columns)
	if _, err := s.conn.ExecContext(ctx, stmt, row.Values...); err != nil {
		return &QueryError{Statement: stmt, Err: err}
	}
	return nil
}

func (s *mysqlSession) SetForeignKeyChecks(ctx context.Context, enabled bool) error {
	stmt := "SET FOREIGN_KEY_CHECKS=0"
	if enabled {
		stmt = "SET FOREIGN_KEY_CHECKS=1"
	}
	return s.Exec(ctx, stmt)
}

func (s *mysqlSession) SetAutoIncrement(ctx context.Context, table string, value uint64) error {
	return s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", QuoteIdentifier(table), value))
}

func (s *mysqlSession) DatabaseCharset(ctx context.Context, database string) (string, error) {
	const stmt = "SELECT DEFAULT_CHARACTER_SET_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?"
	var charset string
	if err := s.conn.QueryRowContext(ctx, stmt, database).Scan(&charset); err != nil {
		return "", &QueryError{Statement: stmt, Err: err}
	}
	return charset, nil
}

func (s *mysqlSession) EnsureDatabase(ctx context.Context, database, charset string) error {
	stmt := "CREATE DATABASE IF NOT EXISTS " + QuoteIdentifier(database)
	if charset != "" {
		if !charsetPattern.MatchString(charset) {
			return fmt.Errorf("invalid character set %q", charset)
		}
		stmt += " CHARACTER SET " + charset
	}
	return s.Exec(ctx, stmt)
}

func (s *mysqlSession) ServerVersion(ctx context.Context) (string, error) {
	const stmt = "SELECT VERSION()"
	var v string
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&v); err != nil {
		return "", &QueryError{Statement: stmt, Err: err}
	}
	return v, nil
}

func (s *mysqlSession) Close() error {
	err := s.conn.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// sqlCursor 包装 *sql.Rows，驱动在 Next 时才从网络读取下一行
type sqlCursor struct {
	rows    *sql.Rows
	columns []string
}

func (c *sqlCursor) Next() bool {
	return c.rows.Next()
}

func (c *sqlCursor) Row() (Row, error) {
	values := make([]any, len(c.columns))
	dest := make([]any, len(c.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return Row{}, err
	}
	return Row{Columns: c.columns, Values: values}, nil
}

func (c *sqlCursor) Err() error {
	return c.rows.Err()
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}
