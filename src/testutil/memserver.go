// Package testutil 提供内存中的数据库服务器，实现 dbconn.Connector 供测试使用
package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
)

var createTablePattern = regexp.MustCompile("(?is)^\\s*CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?`((?:[^`]|``)+)`")

// Table 内存表
type Table struct {
	DDL           string
	Columns       []string
	Rows          [][]any
	AutoIncrement uint64
	// Unique 非空时该列的值不能重复
	Unique string
}

// Database 内存库
type Database struct {
	Charset string
	Tables  map[string]*Table
	order   []string
}

// Op 会话上发生的一次操作
type Op struct {
	Database string
	Kind     string // exec, insert, fk, autoinc
	Table    string
	Detail   string
	// FKChecks 操作发生时该会话的外键检查状态
	FKChecks bool
}

// Server 内存服务器，所有方法并发安全
type Server struct {
	Version string

	mu        sync.Mutex
	databases map[string]*Database
	ops       []Op
	open      int
	maxOpen   int
	openCurs  int
	fetched   int64

	// 故障注入
	ConnectErr   map[string]error // 按库名
	DatabasesErr error
	TablesErr    error
	DDLErr       map[string]error
	CountErr     map[string]error
	AutoIncErr   map[string]error
	StreamErrAt  map[string]int // 读取到第 N 行时返回错误
	SetFKErr     error
	ExecHook     func(db, stmt string) error
	BeforeInsert func(db, table string, row dbconn.Row)
	CountHook    func(db, table string)
	// UniqueKeys 为目标端按 DDL 建出的表指定唯一列
	UniqueKeys map[string]string
}

// NewServer 创建空服务器
func NewServer() *Server {
	return &Server{
		Version:   "8.0.36",
		databases: make(map[string]*Database),
	}
}

// AddDatabase 添加库
func (s *Server) AddDatabase(name, charset string) *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDatabaseLocked(name, charset)
}

func (s *Server) addDatabaseLocked(name, charset string) *Database {
	if db, ok := s.databases[name]; ok {
		return db
	}
	db := &Database{Charset: charset, Tables: make(map[string]*Table)}
	s.databases[name] = db
	return db
}

// AddTable 添加表，DDL 为空时自动生成
func (s *Server) AddTable(database, name string, t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := s.addDatabaseLocked(database, "utf8mb4")
	if t.DDL == "" {
		t.DDL = "CREATE TABLE " + dbconn.QuoteIdentifier(name) + " (" + strings.Join(t.Columns, ", ") + ")"
		if t.AutoIncrement > 0 {
			t.DDL += fmt.Sprintf(" ENGINE=InnoDB AUTO_INCREMENT=%d", t.AutoIncrement)
		}
	}
	if _, ok := db.Tables[name]; !ok {
		db.order = append(db.order, name)
	}
	db.Tables[name] = t
}

// Table 返回表的快照
func (s *Server) Table(database, name string) (Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[database]
	if !ok {
		return Table{}, false
	}
	t, ok := db.Tables[name]
	if !ok {
		return Table{}, false
	}
	cp := *t
	cp.Rows = append([][]any(nil), t.Rows...)
	return cp, true
}

// HasDatabase 判断库是否存在
func (s *Server) HasDatabase(name string) (charset string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[name]
	if !ok {
		return "", false
	}
	return db.Charset, true
}

// Ops 返回操作记录副本
func (s *Server) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// OpenSessions 返回当前未关闭的会话数
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// MaxOpenSessions 返回同时打开会话数的峰值
func (s *Server) MaxOpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpen
}

// FetchedRows 返回所有游标累计从服务器取出的行数
func (s *Server) FetchedRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched
}

// OpenCursors 返回未关闭的游标数
func (s *Server) OpenCursors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCurs
}

// Connect 实现 dbconn.Connector
func (s *Server) Connect(ctx context.Context, profile dbconn.ConnectionProfile) (dbconn.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &dbconn.ConnectError{Profile: profile, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ConnectErr[profile.Database]; err != nil {
		return nil, &dbconn.ConnectError{Profile: profile, Err: err}
	}
	if profile.Database != "" {
		if _, ok := s.databases[profile.Database]; !ok {
			return nil, &dbconn.ConnectError{Profile: profile, Err: fmt.Errorf("unknown database '%s'", profile.Database)}
		}
	}
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	return &session{server: s, database: profile.Database, fkChecks: true}, nil
}

// Network 按 Host 把连接路由到不同的内存服务器
type Network map[string]*Server

func (n Network) Connect(ctx context.Context, profile dbconn.ConnectionProfile) (dbconn.Session, error) {
	s, ok := n[profile.Host]
	if !ok {
		return nil, &dbconn.ConnectError{Profile: profile, Err: errors.New("connection refused")}
	}
	return s.Connect(ctx, profile)
}

type session struct {
	server   *Server
	database string
	fkChecks bool
	closed   bool
}

func (c *session) table(name string) (*Table, error) {
	db, ok := c.server.databases[c.database]
	if !ok {
		return nil, errors.New("no database selected")
	}
	t, ok := db.Tables[name]
	if !ok {
		return nil, fmt.Errorf("table '%s.%s' doesn't exist", c.database, name)
	}
	return t, nil
}

func (c *session) record(kind, table, detail string) {
	c.server.ops = append(c.server.ops, Op{
		Database: c.database,
		Kind:     kind,
		Table:    table,
		Detail:   detail,
		FKChecks: c.fkChecks,
	})
}

func (c *session) Databases(ctx context.Context) ([]string, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.DatabasesErr != nil {
		return nil, &dbconn.QueryError{Statement: "SHOW DATABASES", Err: c.server.DatabasesErr}
	}
	names := make([]string, 0, len(c.server.databases))
	for name := range c.server.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *session) Tables(ctx context.Context) ([]string, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.TablesErr != nil {
		return nil, &dbconn.QueryError{Statement: "SHOW FULL TABLES", Err: c.server.TablesErr}
	}
	db, ok := c.server.databases[c.database]
	if !ok {
		return nil, errors.New("no database selected")
	}
	return append([]string(nil), db.order...), nil
}

func (c *session) CreateTableStatement(ctx context.Context, table string) (string, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if err := c.server.DDLErr[table]; err != nil {
		return "", &dbconn.QueryError{Statement: "SHOW CREATE TABLE " + table, Err: err}
	}
	t, err := c.table(table)
	if err != nil {
		return "", err
	}
	return t.DDL, nil
}

func (c *session) CountRows(ctx context.Context, table string) (int64, error) {
	if hook := c.server.CountHook; hook != nil {
		hook(c.database, table)
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if err := c.server.CountErr[table]; err != nil {
		return 0, &dbconn.QueryError{Statement: "SELECT COUNT(*)", Err: err}
	}
	t, err := c.table(table)
	if err != nil {
		return 0, err
	}
	return int64(len(t.Rows)), nil
}

func (c *session) AutoIncrement(ctx context.Context, table string) (uint64, bool, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if err := c.server.AutoIncErr[table]; err != nil {
		return 0, false, err
	}
	t, err := c.table(table)
	if err != nil {
		return 0, false, err
	}
	return t.AutoIncrement, t.AutoIncrement > 0, nil
}

func (c *session) StreamRows(ctx context.Context, table string) (dbconn.RowCursor, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	t, err := c.table(table)
	if err != nil {
		return nil, err
	}
	failAt, fail := c.server.StreamErrAt[table]
	if !fail {
		failAt = -1
	}
	c.server.openCurs++
	return &Cursor{
		server:  c.server,
		columns: t.Columns,
		rows:    append([][]any(nil), t.Rows...),
		failAt:  failAt,
		pos:     -1,
	}, nil
}

func (c *session) Exec(ctx context.Context, stmt string) error {
	if hook := c.server.ExecHook; hook != nil {
		if err := hook(c.database, stmt); err != nil {
			return &dbconn.QueryError{Statement: stmt, Err: err}
		}
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.record("exec", "", stmt)
	m := createTablePattern.FindStringSubmatch(stmt)
	if m == nil {
		return nil
	}
	db, ok := c.server.databases[c.database]
	if !ok {
		return &dbconn.QueryError{Statement: stmt, Err: errors.New("no database selected")}
	}
	name := strings.ReplaceAll(m[1], "``", "`")
	if _, exists := db.Tables[name]; exists {
		return &dbconn.QueryError{Statement: stmt, Err: fmt.Errorf("table '%s' already exists", name)}
	}
	db.Tables[name] = &Table{DDL: stmt}
	db.order = append(db.order, name)
	return nil
}

func (c *session) InsertRow(ctx context.Context, table string, row dbconn.Row) error {
	if hook := c.server.BeforeInsert; hook != nil {
		hook(c.database, table, row)
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.record("insert", table, fmt.Sprint(row.Values))
	t, err := c.table(table)
	if err != nil {
		return &dbconn.QueryError{Statement: "INSERT INTO " + table, Err: err}
	}
	if t.Columns == nil {
		t.Columns = append([]string(nil), row.Columns...)
	}
	unique := t.Unique
	if unique == "" {
		unique = c.server.UniqueKeys[table]
	}
	if unique != "" {
		m := row.Map()
		for _, existing := range t.Rows {
			for i, col := range t.Columns {
				if col == unique && existing[i] == m[col] {
					return &dbconn.QueryError{
						Statement: "INSERT INTO " + table,
						Err:       fmt.Errorf("Duplicate entry '%v' for key '%s'", m[col], col),
					}
				}
			}
		}
	}
	t.Rows = append(t.Rows, append([]any(nil), row.Values...))
	return nil
}

func (c *session) SetForeignKeyChecks(ctx context.Context, enabled bool) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.SetFKErr != nil {
		return c.server.SetFKErr
	}
	c.fkChecks = enabled
	c.record("fk", "", fmt.Sprint(enabled))
	return nil
}

func (c *session) SetAutoIncrement(ctx context.Context, table string, value uint64) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	t, err := c.table(table)
	if err != nil {
		return err
	}
	t.AutoIncrement = value
	c.record("autoinc", table, fmt.Sprint(value))
	return nil
}

func (c *session) DatabaseCharset(ctx context.Context, database string) (string, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	db, ok := c.server.databases[database]
	if !ok {
		return "", fmt.Errorf("unknown database '%s'", database)
	}
	return db.Charset, nil
}

func (c *session) EnsureDatabase(ctx context.Context, database, charset string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.addDatabaseLocked(database, charset)
	c.record("exec", "", "CREATE DATABASE IF NOT EXISTS "+database)
	return nil
}

func (c *session) ServerVersion(ctx context.Context) (string, error) {
	return c.server.Version, nil
}

func (c *session) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.server.open--
	return nil
}

// Cursor 内存游标，记录已经读取的行数
type Cursor struct {
	server  *Server
	columns []string
	rows    [][]any
	pos     int
	failAt  int
	err     error
	closed  bool
}

func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.pos+1 == c.failAt {
		c.err = errors.New("lost connection to server during query")
		return false
	}
	if c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	c.server.mu.Lock()
	c.server.fetched++
	c.server.mu.Unlock()
	return true
}

func (c *Cursor) Row() (dbconn.Row, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return dbconn.Row{}, errors.New("no current row")
	}
	return dbconn.Row{Columns: c.columns, Values: append([]any(nil), c.rows[c.pos]...)}, nil
}

func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.server.mu.Lock()
	c.server.openCurs--
	c.server.mu.Unlock()
	return nil
}
