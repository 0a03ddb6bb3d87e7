package configs

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
)

// Mode 迁移模式
type Mode string

const (
	// ModeSingle 只迁移 source.database 指定的库
	ModeSingle Mode = "single"
	// ModeMulti 迁移 databases 列表中的库，列表为空时交互选择
	ModeMulti Mode = "multi"
)

// 覆盖配置文件的环境变量
const (
	EnvSourcePassword = "DBMIRROR_SOURCE_PASSWORD"
	EnvTargetPassword = "DBMIRROR_TARGET_PASSWORD"
	EnvSourceHost     = "DBMIRROR_SOURCE_HOST"
	EnvTargetHost     = "DBMIRROR_TARGET_HOST"
	EnvSentryDSN      = "DBMIRROR_SENTRY_DSN"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: false,
	Bind:   "127.0.0.1:8090",
}

func (r *RPC) verify() error {
	if r == nil {
		return nil
	}
	if !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

// Load 负载门限配置
type Load struct {
	Ceiling  float64       `yaml:"ceiling" json:"ceiling"`   // 1 分钟负载 ×100 的上限，达到即暂停派发
	Interval time.Duration `yaml:"interval" json:"interval"` // 负载过高时的重试间隔
	PerCPU   bool          `yaml:"per_cpu" json:"per_cpu"`   // 按 CPU 核数归一化负载
}

// Pause 暂停信号配置
type Pause struct {
	File     string        `yaml:"file" json:"file"`         // 存在即暂停的标记文件
	Interval time.Duration `yaml:"interval" json:"interval"` // 暂停期间的轮询间隔
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	SaveEveryLog bool   `yaml:"save_every_log" json:"save_every_log"`
	// RotateDays 指定按"天"为单位滚动日志时，最多保留的天数（<=0 表示不清理）
	RotateDays int `yaml:"rotate_days" json:"rotate_days"`
}

// History 运行历史配置
type History struct {
	Enable bool   `yaml:"enable" json:"enable"`
	DBPath string `yaml:"db_path" json:"db_path"`
}

// 通知服务所需配置
type Notify struct {
	Email Email `yaml:"email" json:"email"`
}

type Email struct {
	Enable         bool   `yaml:"enable" json:"enable"`
	SMTPHost       string `yaml:"smtpHost" json:"smtpHost"`
	SMTPPort       int    `yaml:"smtpPort" json:"smtpPort"`
	SenderEmail    string `yaml:"senderEmail" json:"senderEmail"`
	SenderPassword string `yaml:"senderPassword" json:"-"`
	RecipientEmail string `yaml:"recipientEmail" json:"recipientEmail"`
}

// Sentry 错误上报配置
type Sentry struct {
	Enable      bool   `yaml:"enable" json:"enable"`
	DSN         string `yaml:"dsn" json:"-"`
	Environment string `yaml:"environment" json:"environment"`
}

// Config content all config info.
type Config struct {
	File string `yaml:"-" json:"-"`

	Debug     bool                     `yaml:"debug" json:"debug"`
	Mode      Mode                     `yaml:"mode" json:"mode"`
	Source    dbconn.ConnectionProfile `yaml:"source" json:"source"`
	Target    dbconn.ConnectionProfile `yaml:"target" json:"target"`
	Databases []string                 `yaml:"databases" json:"databases"`
	Threads   int                      `yaml:"threads" json:"threads"`
	BatchSize int                      `yaml:"batch_size" json:"batch_size"`
	Load      Load                     `yaml:"load" json:"load"`
	Pause     Pause                    `yaml:"pause" json:"pause"`
	FaultLog  string                   `yaml:"fault_log" json:"fault_log"`
	Log       Log                      `yaml:"log" json:"log"`
	History   History                  `yaml:"history" json:"history"`
	RPC       RPC                      `yaml:"rpc" json:"rpc"`
	Notify    Notify                   `yaml:"notify" json:"notify"`
	Sentry    Sentry                   `yaml:"sentry" json:"sentry"`
}

// 使用 atomic.Value 存放当前配置指针，避免并发读写造成 data race
var config atomic.Value // stores *Config

var currentDebug atomic.Bool

func SetCurrentConfig(cfg *Config) {
	if cfg == nil {
		config.Store((*Config)(nil))
		currentDebug.Store(false)
		return
	}
	config.Store(cfg)
	currentDebug.Store(cfg.Debug)
}

func GetCurrentConfig() *Config {
	v := config.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// IsDebug 提供并发安全、低开销的 Debug 值读取
func IsDebug() bool {
	return currentDebug.Load()
}

var defaultConfig = Config{
	Debug: false,
	Mode:  ModeSingle,
	Source: dbconn.ConnectionProfile{
		Host: "127.0.0.1",
		Port: 3306,
		User: "root",
	},
	Target: dbconn.ConnectionProfile{
		Host: "127.0.0.1",
		Port: 3306,
		User: "root",
	},
	Threads:   4,
	BatchSize: 1000,
	Load: Load{
		Ceiling:  75,
		Interval: 10 * time.Second,
	},
	Pause: Pause{
		File:     "pause_migration.txt",
		Interval: 5 * time.Second,
	},
	FaultLog: "migration_log.txt",
	Log: Log{
		OutPutFolder: "./",
		SaveLastLog:  true,
		SaveEveryLog: false,
		RotateDays:   7,
	},
	History: History{
		Enable: true,
		DBPath: "dbmirror.db",
	},
	RPC: defaultRPC,
	Notify: Notify{
		Email: Email{
			SMTPHost: "smtp.qq.com",
			SMTPPort: 465,
		},
	},
	Sentry: Sentry{
		Environment: "production",
	},
}

func NewConfig() *Config {
	c := defaultConfig
	c.Databases = []string{}
	return &c
}

// Verify will return an error when this config has problem.
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("配置不存在")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	switch c.Mode {
	case ModeSingle:
		if c.Source.Database == "" {
			return fmt.Errorf("single 模式需要指定 source.database")
		}
	case ModeMulti:
		if c.Target.Database != "" {
			return fmt.Errorf("multi 模式下目标库与源库同名，不能指定 target.database")
		}
	default:
		return fmt.Errorf("未知的迁移模式 %q", c.Mode)
	}
	if c.Source.Host == "" || c.Target.Host == "" {
		return fmt.Errorf("源库与目标库地址不能为空")
	}
	if c.Threads <= 0 {
		return fmt.Errorf("并发数必须大于 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("批大小必须大于 0")
	}
	if c.Load.Ceiling <= 0 {
		return fmt.Errorf("负载上限必须大于 0")
	}
	if c.Load.Interval <= 0 || c.Pause.Interval <= 0 {
		return fmt.Errorf("轮询间隔必须大于 0")
	}
	if c.Pause.File == "" {
		return fmt.Errorf("暂停标记文件路径不能为空")
	}
	if c.FaultLog == "" {
		return fmt.Errorf("错误日志路径不能为空")
	}
	if c.History.Enable && c.History.DBPath == "" {
		return fmt.Errorf("已启用运行历史但未指定 history.db_path")
	}
	if e := c.Notify.Email; e.Enable && (e.SMTPHost == "" || e.RecipientEmail == "") {
		return fmt.Errorf("已启用邮件通知但未配置 SMTP 服务器或收件人")
	}
	return nil
}

// SourceProfile 返回指定库的源端连接配置
func (c *Config) SourceProfile(database string) dbconn.ConnectionProfile {
	return c.Source.WithDatabase(database)
}

// TargetDatabase 返回源库 database 在目标端对应的库名
// single 模式下 target.database 非空时使用它，否则与源库同名
func (c *Config) TargetDatabase(database string) string {
	if c.Mode == ModeSingle && c.Target.Database != "" {
		return c.Target.Database
	}
	return database
}

// TargetProfile 返回源库 database 对应的目标端连接配置
func (c *Config) TargetProfile(database string) dbconn.ConnectionProfile {
	return c.Target.WithDatabase(c.TargetDatabase(database))
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	config := *NewConfig()
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s: %w", file, err)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	return config, nil
}

// LoadEnv 读取 .env 文件（不存在时忽略）并用环境变量覆盖敏感配置
func (c *Config) LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	c.ApplyEnv(os.LookupEnv)
	return nil
}

// ApplyEnv 使用 lookup 返回的值覆盖配置
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSourcePassword); ok {
		c.Source.Password = v
	}
	if v, ok := lookup(EnvTargetPassword); ok {
		c.Target.Password = v
	}
	if v, ok := lookup(EnvSourceHost); ok && v != "" {
		c.Source.Host, c.Source.Port = SplitHostPort(v, c.Source.Port)
	}
	if v, ok := lookup(EnvTargetHost); ok && v != "" {
		c.Target.Host, c.Target.Port = SplitHostPort(v, c.Target.Port)
	}
	if v, ok := lookup(EnvSentryDSN); ok && v != "" {
		c.Sentry.DSN = v
		c.Sentry.Enable = true
	}
}

// SplitHostPort 解析 host[:port]，缺少端口或端口非法时使用 fallback
func SplitHostPort(v string, fallback int) (string, int) {
	host, port, err := net.SplitHostPort(v)
	if err != nil {
		return v, fallback
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, fallback
	}
	return host, p
}

// Marshal 将配置连同注释写回 c.File
func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}
	b, err := c.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(c.File, b, 0o600)
}

// Encode 序列化为带注释的 yaml
func (c *Config) Encode() ([]byte, error) {
	var node yaml.Node
	tempBytes, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(tempBytes, &node); err != nil {
		return nil, err
	}

	DecorateConfigNode(&node)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
