// Package selector 决定 multi 模式下要迁移哪些数据库
package selector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
)

// ErrUnknownDatabase 请求的库不在候选列表中
var ErrUnknownDatabase = errors.New("unknown database")

// ErrNothingSelected 没有选中任何库
var ErrNothingSelected = errors.New("no database selected")

var systemDatabases = map[string]struct{}{
	"information_schema": {},
	"mysql":              {},
	"performance_schema": {},
	"sys":                {},
}

// IsSystemDatabase 是否为 MySQL 自带的系统库
func IsSystemDatabase(name string) bool {
	_, ok := systemDatabases[strings.ToLower(name)]
	return ok
}

// Candidates 列出源端可迁移的库，保持服务器返回的顺序
func Candidates(ctx context.Context, session dbconn.Session) ([]string, error) {
	all, err := session.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if !IsSystemDatabase(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Resolve 将请求解析为库名列表
// 请求项可以是库名、从 1 开始的序号，或 "*"/"all" 表示全部；结果去重且保持请求顺序
func Resolve(candidates, requested []string) ([]string, error) {
	var (
		out  []string
		seen = make(map[string]struct{}, len(candidates))
	)
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for _, raw := range requested {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if item == "*" || strings.EqualFold(item, "all") {
			for _, c := range candidates {
				add(c)
			}
			continue
		}
		if name, ok := lookup(candidates, item); ok {
			add(name)
			continue
		}
		if n, err := strconv.Atoi(item); err == nil {
			if n < 1 || n > len(candidates) {
				return nil, fmt.Errorf("%w: index %d out of range 1-%d", ErrUnknownDatabase, n, len(candidates))
			}
			add(candidates[n-1])
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, item)
	}
	if len(out) == 0 {
		return nil, ErrNothingSelected
	}
	return out, nil
}

func lookup(candidates []string, name string) (string, bool) {
	for _, c := range candidates {
		if c == name {
			return c, true
		}
	}
	return "", false
}

// Prompt 打印带序号的候选列表并读取一行逗号分隔的选择
func Prompt(in io.Reader, out io.Writer, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, ErrNothingSelected
	}
	fmt.Fprintln(out, "Available databases:")
	for i, name := range candidates {
		fmt.Fprintf(out, "  %d) %s\n", i+1, name)
	}
	fmt.Fprint(out, "Select databases to migrate (comma separated names or numbers, * for all): ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	return Resolve(candidates, strings.Split(line, ","))
}
