// Package sentry 提供 Sentry 错误监控的封装
// 用于收集迁移进程的崩溃日志，同时避免把数据库凭据上报出去
package sentry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	// initialized 标记 Sentry 是否已初始化
	initialized bool
	// initMu 保护初始化状态
	initMu sync.RWMutex
)

// 敏感关键字列表，用于过滤敏感数据
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "auth", "credential", "dsn",
}

// DSN 形如 user:password@tcp(host:port)/db，其中的密码需要脱敏
var dsnPasswordPattern = regexp.MustCompile(`([A-Za-z0-9_\-.]+):([^@/\s]+)@(tcp|unix)\(`)

// Init 初始化 Sentry SDK
// dsn 为 Sentry DSN，留空则禁用
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       beforeSendHook,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}

	initMu.Lock()
	initialized = true
	initMu.Unlock()

	return nil
}

// IsInitialized 返回 Sentry 是否已初始化
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush 刷新所有待发送事件（程序退出前调用）
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// RecoverWithContext 用于 goroutine 的 panic 恢复
// 注意：必须先调用 recover()，再检查 Sentry 状态，否则 panic 不会被捕获
func RecoverWithContext(ctx context.Context) {
	err := recover()
	if err == nil {
		return
	}
	report(ctx, err)
}

// Recover 用于 goroutine 的 panic 恢复（无 context 版本）
func Recover() {
	err := recover()
	if err == nil {
		return
	}
	report(nil, err)
}

func report(ctx context.Context, err any) {
	if !IsInitialized() {
		return
	}
	var hub *sentry.Hub
	if ctx != nil {
		hub = sentry.GetHubFromContext(ctx)
	}
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub == nil {
		return
	}
	if ctx != nil {
		hub.RecoverWithContext(ctx, err)
		return
	}
	hub.Recover(err)
}

// CaptureException 捕获异常
func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// Go 启动一个新的 goroutine 并自动添加 panic 恢复
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext 启动一个新的 goroutine 并自动添加 panic 恢复（带 Context）
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer RecoverWithContext(ctx)
		f(ctx)
	}()
}

// beforeSendHook 在发送事件前清理敏感数据
func beforeSendHook(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Message != "" {
		event.Message = SanitizeString(event.Message)
	}
	for i := range event.Exception {
		if event.Exception[i].Value != "" {
			event.Exception[i].Value = SanitizeString(event.Exception[i].Value)
		}
	}
	event.Extra = sanitizeMap(event.Extra)
	for key, value := range event.Tags {
		if isSensitiveKey(key) {
			event.Tags[key] = "[REDACTED]"
		} else {
			event.Tags[key] = SanitizeString(value)
		}
	}
	return event
}

// SanitizeString 清理字符串中的敏感数据
func SanitizeString(s string) string {
	result := dsnPasswordPattern.ReplaceAllString(s, "$1:[REDACTED]@$3(")
	for _, keyword := range sensitiveKeywords {
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(keyword) + `)\s*[=:]\s*[^\s,}"\]]+`)
		result = pattern.ReplaceAllString(result, "$1=[REDACTED]")
	}
	return result
}

func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = SanitizeString(v)
			}
		case map[string]interface{}:
			result[key] = sanitizeMap(v)
		default:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = value
			}
		}
	}
	return result
}

// isSensitiveKey 检查键名是否为敏感键
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}
